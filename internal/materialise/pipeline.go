package materialise

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"genomeforge/internal/ephemeral"
	"genomeforge/internal/ledger"
	"genomeforge/internal/logging"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// Pipeline drives one job from PENDING to PASSED or FAILED. The durable job
// row is the source of truth; the status board is a polling mirror.
type Pipeline struct {
	store     domain.PersistentStore
	ledger    *ledger.Ledger
	board     *ephemeral.StatusBoard
	artifacts *ArtifactStore
	gen       Generator
	metrics   *Metrics
	log       logging.Logger
	now       func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithPipelineLogger(log logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.log = logging.OrNoop(log) }
}

func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithMetrics records job outcomes and node latency.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(l *ledger.Ledger, board *ephemeral.StatusBoard, artifacts *ArtifactStore, gen Generator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     l.Store(),
		ledger:    l,
		board:     board,
		artifacts: artifacts,
		gen:       gen,
		log:       logging.Noop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run materialises g for job. The returned job is the final durable row; the
// error is the cause of a FAILED outcome.
func (p *Pipeline) Run(ctx context.Context, job domain.Job, g genome.Genome) (domain.Job, error) {
	started, err := p.start(ctx, job.ID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || domain.IsNotFound(err) {
			return job, err
		}
		return p.fail(ctx, job, nil, &PersistenceError{JobID: job.ID, Op: "start", Err: err})
	}
	job = started
	p.metrics.jobStarted()
	log := p.log
	log.Info("materialisation started", "job_id", job.ID, "project_id", job.ProjectID, "user_id", job.UserID, "attempt", job.Attempts)

	if err := p.board.Set(ctx, job.ID, domain.JobRunning, 0); err != nil {
		return p.fail(ctx, job, nil, &PersistenceError{JobID: job.ID, Op: "status mirror", Err: err})
	}

	nodes := genome.Flatten(g)
	total := max(len(nodes), 1)
	artifacts := make([]Artifact, 0, len(nodes))
	for i, node := range nodes {
		zone := node.Zone
		if zone == "" {
			zone = DefaultZone
		}
		began := p.now()
		code, err := p.gen.Generate(ctx, node.Type, node.Props, zone)
		if err != nil {
			return p.fail(ctx, job, nil, &GenerationError{JobID: job.ID, NodeID: node.ID, Type: node.Type, Err: err})
		}
		classified := ClassifyZone(zone)
		p.metrics.nodeGenerated(classified, p.now().Sub(began))
		artifacts = append(artifacts, Artifact{Seq: i, NodeID: node.ID, Type: node.Type, Zone: classified, Code: code})
		if err := p.progress(ctx, job.ID, Progress(i+1, total)); err != nil {
			return p.fail(ctx, job, nil, err)
		}
	}
	if len(nodes) == 0 {
		if err := p.progress(ctx, job.ID, 100); err != nil {
			return p.fail(ctx, job, nil, err)
		}
	}

	staged, err := p.artifacts.Stage(ctx, job, artifacts)
	if err != nil {
		return p.fail(ctx, job, nil, err)
	}
	var (
		entry   domain.LedgerEntry
		debited bool
		passed  domain.Job
	)
	_, err = p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.InsertBlocks(staged.Blocks); err != nil {
			return fmt.Errorf("insert blocks: %w", err)
		}
		if job.LedgerEntryID != "" {
			var err error
			entry, debited, err = p.ledger.CommitIn(tx, job.LedgerEntryID)
			if err != nil {
				return fmt.Errorf("commit reservation: %w", err)
			}
		}
		finished := p.now()
		var err error
		passed, err = tx.UpdateJob(job.ID, func(j *domain.Job) error {
			j.Status = domain.JobPassed
			j.Progress = 100
			j.Error = ""
			j.FinishedAt = &finished
			return nil
		})
		return err
	})
	if err != nil {
		return p.fail(ctx, job, staged, &PersistenceError{JobID: job.ID, Op: "finalise", Err: err})
	}
	if debited {
		p.ledger.AfterCommit(ctx, entry)
	}
	if err := p.board.Set(ctx, job.ID, domain.JobPassed, 100); err != nil {
		log.Warn("status mirror failed", "job_id", job.ID, "status", domain.JobPassed, "error", err)
	}
	p.metrics.jobFinished(job.ID, true)
	log.Info("materialisation passed", "job_id", job.ID, "project_id", job.ProjectID, "blocks", len(staged.Blocks))
	return passed, nil
}

// Progress is round(100 × done / total), clamped to [0,100].
func Progress(done, total int) int {
	if total <= 0 {
		return 100
	}
	pct := int(math.Round(100 * float64(done) / float64(total)))
	return min(max(pct, 0), 100)
}

func (p *Pipeline) start(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	_, err := p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.FindJob(jobID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityJob, ID: jobID}
		}
		if current.Status != domain.JobPending {
			return domain.TransitionError{Entity: domain.EntityJob, ID: jobID, From: string(current.Status), To: string(domain.JobRunning)}
		}
		startedAt := p.now()
		var err error
		job, err = tx.UpdateJob(jobID, func(j *domain.Job) error {
			j.Status = domain.JobRunning
			j.Progress = 0
			j.Attempts++
			j.Error = ""
			j.StartedAt = &startedAt
			j.FinishedAt = nil
			return nil
		})
		return err
	})
	return job, err
}

func (p *Pipeline) progress(ctx context.Context, jobID string, pct int) error {
	p.metrics.reportProgress(jobID, pct)
	if err := p.board.SetProgress(ctx, jobID, pct); err != nil {
		return &PersistenceError{JobID: jobID, Op: "progress mirror", Err: err}
	}
	return nil
}

// fail moves the job to FAILED and releases its reservation. Every cleanup
// step runs even if ctx was cancelled; cleanup errors are logged only.
func (p *Pipeline) fail(ctx context.Context, job domain.Job, staged *Staged, cause error) (domain.Job, error) {
	cleanup := context.WithoutCancel(ctx)
	log := p.log
	staged.Discard(cleanup)

	failed := job
	finished := p.now()
	_, err := p.store.RunInTransaction(cleanup, func(tx domain.Transaction) error {
		var err error
		failed, err = tx.UpdateJob(job.ID, func(j *domain.Job) error {
			j.Status = domain.JobFailed
			j.Progress = 0
			j.Error = cause.Error()
			j.FinishedAt = &finished
			return nil
		})
		return err
	})
	if err != nil {
		log.Error("mark job failed", "job_id", job.ID, "error", err)
		failed.Status = domain.JobFailed
		failed.Progress = 0
		failed.Error = cause.Error()
	}
	if job.LedgerEntryID != "" {
		if _, err := p.ledger.Rollback(cleanup, job.LedgerEntryID); err != nil {
			log.Error("ledger rollback", "job_id", job.ID, "entry_id", job.LedgerEntryID, "error", err)
		}
	}
	if err := p.board.Set(cleanup, job.ID, domain.JobFailed, 0); err != nil {
		log.Warn("status mirror failed", "job_id", job.ID, "status", domain.JobFailed, "error", err)
	}
	if job.Status == domain.JobRunning {
		p.metrics.jobFinished(job.ID, false)
	}
	log.Warn("materialisation failed", "job_id", job.ID, "project_id", job.ProjectID, "error", cause)
	return failed, cause
}
