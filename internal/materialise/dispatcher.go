package materialise

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"genomeforge/internal/ledger"
	"genomeforge/internal/logging"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// DefaultWorkers bounds concurrent jobs when NewDispatcher gets workers <= 0.
const DefaultWorkers = 4

// Request asks the dispatcher to run one PENDING job.
type Request struct {
	Job    domain.Job
	Genome genome.Genome
}

// StatusSource tells where a StatusView was read from.
type StatusSource string

const (
	SourceBoard   StatusSource = "ephemeral"
	SourceDurable StatusSource = "durable"
)

// StatusView is what a poller sees for one job.
type StatusView struct {
	JobID    string           `json:"job_id"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress"`
	Source   StatusSource     `json:"source"`
}

// Dispatcher runs jobs in the background with bounded concurrency. Submit
// returns as soon as the job is queued; callers poll Status or wait on Done.
type Dispatcher struct {
	pipeline *Pipeline
	sem      *semaphore.Weighted
	log      logging.Logger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]chan struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewDispatcher starts a dispatcher running at most workers jobs at once.
func NewDispatcher(p *Pipeline, workers int, log logging.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pipeline: p,
		sem:      semaphore.NewWeighted(int64(workers)),
		log:      logging.OrNoop(log),
		base:     base,
		cancel:   cancel,
		inflight: make(map[string]chan struct{}),
	}
}

// Submit queues req and returns its job id. The job runs detached from ctx.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	jobID := req.Job.ID
	if jobID == "" {
		return "", errors.New("submit: job id required")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	if _, busy := d.inflight[jobID]; busy {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrInFlight, jobID)
	}
	finished := make(chan struct{})
	d.inflight[jobID] = finished
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(req, finished)
	return jobID, nil
}

func (d *Dispatcher) run(req Request, finished chan struct{}) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, req.Job.ID)
		d.mu.Unlock()
		close(finished)
	}()
	if err := d.sem.Acquire(d.base, 1); err != nil {
		_, _ = d.pipeline.fail(d.base, req.Job, nil, fmt.Errorf("dispatcher shut down before start: %w", err))
		return
	}
	defer d.sem.Release(1)
	if _, err := d.pipeline.Run(d.base, req.Job, req.Genome); err != nil {
		d.log.Debug("job finished with error", "job_id", req.Job.ID, "error", err)
	}
}

// Done returns a channel closed when the current run of jobID ends. Jobs
// that are not running get an already-closed channel.
func (d *Dispatcher) Done(jobID string) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.inflight[jobID]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Status reads the status board, falling back to the durable job row.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (StatusView, error) {
	view, found, err := d.pipeline.board.Get(ctx, jobID)
	if err != nil {
		d.log.Warn("status board read failed", "job_id", jobID, "error", err)
	}
	if err == nil && found {
		return StatusView{JobID: jobID, Status: view.Status, Progress: view.Progress, Source: SourceBoard}, nil
	}
	job, ok := d.pipeline.store.GetJob(jobID)
	if !ok {
		return StatusView{}, domain.ErrNotFound{Entity: domain.EntityJob, ID: jobID}
	}
	return StatusView{JobID: jobID, Status: job.Status, Progress: job.Progress, Source: SourceDurable}, nil
}

// RetryGuard decides inside the retry transaction whether job may run again.
type RetryGuard func(tx domain.Transaction, job domain.Job, project domain.Project) error

// Retry re-runs a FAILED job under the same id with a fresh reservation
// priced against the project's current genome. A non-nil admit runs before
// anything is reserved; its error aborts the retry.
func (d *Dispatcher) Retry(ctx context.Context, jobID string, admit RetryGuard) (StatusView, error) {
	var (
		job     domain.Job
		project domain.Project
	)
	_, err := d.pipeline.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		current, ok := tx.FindJob(jobID)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityJob, ID: jobID}
		}
		if current.Status != domain.JobFailed {
			return fmt.Errorf("%w: job %s is %s", ErrNotRetryable, jobID, current.Status)
		}
		var found bool
		project, found = tx.FindProject(current.ProjectID)
		if !found {
			return domain.ErrNotFound{Entity: domain.EntityProject, ID: current.ProjectID}
		}
		if admit != nil {
			if err := admit(tx, current, project); err != nil {
				return err
			}
		}
		amount := EstimateChipCost(project.Genome, project.CustomLogicFunctions)
		entry, err := d.pipeline.ledger.ReserveIn(tx, current.UserID, current.ProjectID, domain.TxMaterialisation, amount)
		if err != nil {
			return err
		}
		if _, err := d.pipeline.ledger.AttachJob(tx, entry.ID, jobID); err != nil {
			return err
		}
		job, err = tx.UpdateJob(jobID, func(j *domain.Job) error {
			j.Status = domain.JobPending
			j.Progress = 0
			j.Error = ""
			j.LedgerEntryID = entry.ID
			j.StartedAt = nil
			j.FinishedAt = nil
			return nil
		})
		return err
	})
	if err != nil {
		return StatusView{}, err
	}
	if err := d.pipeline.board.Set(ctx, jobID, domain.JobPending, 0); err != nil {
		d.log.Warn("status mirror failed", "job_id", jobID, "status", domain.JobPending, "error", err)
	}
	if _, err := d.Submit(ctx, Request{Job: job, Genome: project.Genome}); err != nil {
		if _, rbErr := d.pipeline.ledger.Rollback(context.WithoutCancel(ctx), job.LedgerEntryID); rbErr != nil {
			d.log.Error("ledger rollback", "job_id", jobID, "entry_id", job.LedgerEntryID, "error", rbErr)
		}
		return StatusView{}, err
	}
	return StatusView{JobID: jobID, Status: domain.JobPending, Source: SourceDurable}, nil
}

// Wait blocks until every submitted job ends or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work. Jobs still queued for a worker slot are failed;
// running jobs see a cancelled context at their next suspension point.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
}

// Pipeline exposes the underlying pipeline.
func (d *Dispatcher) Pipeline() *Pipeline { return d.pipeline }

// Ledger exposes the ledger the pipeline settles against.
func (d *Dispatcher) Ledger() *ledger.Ledger { return d.pipeline.ledger }
