package core

import (
	"context"
	"fmt"
	"time"

	"genomeforge/internal/ephemeral"
	"genomeforge/internal/ledger"
	"genomeforge/internal/materialise"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

// EstimateChipCost prices a materialisation: 10 + ceil(0.5 × blocks) + 2 per
// custom logic function.
func EstimateChipCost(g genome.Genome, customLogicFunctions int) int64 {
	return materialise.EstimateChipCost(g, customLogicFunctions)
}

// MaterialiseTicket is returned as soon as a job is queued.
type MaterialiseTicket struct {
	JobID         string `json:"job_id"`
	LedgerEntryID string `json:"ledger_entry_id"`
	Amount        int64  `json:"amount"`
}

// Materialise reserves chips for the project's current genome, creates a
// PENDING job and hands it to the dispatcher. It does not wait for the job.
func (s *Service) Materialise(ctx context.Context, projectID, userID string) (MaterialiseTicket, error) {
	ctx, finish := s.begin(ctx, opMaterialise, userID)
	ticket, err := s.materialise(ctx, projectID, userID)
	finish(ticket.JobID, err)
	return ticket, err
}

func (s *Service) materialise(ctx context.Context, projectID, userID string) (MaterialiseTicket, error) {
	if s.dispatcher == nil {
		return MaterialiseTicket{}, ErrNoDispatcher
	}
	if err := s.check(struct {
		ProjectID string `validate:"required"`
		UserID    string `validate:"required"`
	}{projectID, userID}); err != nil {
		return MaterialiseTicket{}, err
	}
	if s.limiter != nil {
		if _, err := s.limiter.Enforce(ctx, ephemeral.MaterialiseRateKey(userID), s.limits.MaterialiseRate, ephemeral.MaterialiseTTL); err != nil {
			return MaterialiseTicket{}, err
		}
	}
	var (
		ticket MaterialiseTicket
		job    domain.Job
		g      genome.Genome
	)
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		project, err := s.ownedProject(tx, projectID, userID)
		if err != nil {
			return err
		}
		g = project.Genome
		ticket.Amount = EstimateChipCost(g, project.CustomLogicFunctions)
		entry, err := s.ledger.ReserveIn(tx, userID, projectID, domain.TxMaterialisation, ticket.Amount)
		if err != nil {
			return err
		}
		job, err = tx.CreateJob(domain.Job{ProjectID: projectID, UserID: userID, Status: domain.JobPending, LedgerEntryID: entry.ID})
		if err != nil {
			return err
		}
		if _, err := s.ledger.AttachJob(tx, entry.ID, job.ID); err != nil {
			return err
		}
		ticket.JobID = job.ID
		ticket.LedgerEntryID = entry.ID
		return nil
	})
	if err != nil {
		return MaterialiseTicket{}, err
	}
	s.logWarnings(opMaterialise, res)
	if _, err := s.dispatcher.Submit(ctx, materialise.Request{Job: job, Genome: g}); err != nil {
		s.abandon(ctx, job, err)
		return MaterialiseTicket{}, err
	}
	s.logger.Info("materialisation queued", "job_id", job.ID, "project_id", projectID, "user_id", userID, "amount", ticket.Amount)
	return ticket, nil
}

// abandon fails a job that never reached the dispatcher and releases its
// reservation. Errors are logged; the reconciler catches anything left.
func (s *Service) abandon(ctx context.Context, job domain.Job, cause error) {
	cleanup := context.WithoutCancel(ctx)
	finished := s.now()
	_, err := s.store.RunInTransaction(cleanup, func(tx domain.Transaction) error {
		_, err := tx.UpdateJob(job.ID, func(j *domain.Job) error {
			j.Status = domain.JobFailed
			j.Progress = 0
			j.Error = cause.Error()
			j.FinishedAt = &finished
			return nil
		})
		return err
	})
	if err != nil {
		s.logger.Error("abandon job", "job_id", job.ID, "error", err)
	}
	if _, err := s.ledger.Rollback(cleanup, job.LedgerEntryID); err != nil {
		s.logger.Error("ledger rollback", "job_id", job.ID, "entry_id", job.LedgerEntryID, "error", err)
	}
}

// JobStatus reports a job's status and progress, preferring the ephemeral
// mirror over the durable row.
func (s *Service) JobStatus(ctx context.Context, jobID string) (materialise.StatusView, error) {
	if s.dispatcher == nil {
		job, ok := s.store.GetJob(jobID)
		if !ok {
			return materialise.StatusView{}, domain.ErrNotFound{Entity: domain.EntityJob, ID: jobID}
		}
		return materialise.StatusView{JobID: jobID, Status: job.Status, Progress: job.Progress, Source: materialise.SourceDurable}, nil
	}
	return s.dispatcher.Status(ctx, jobID)
}

// RetryJob re-runs a FAILED job under the same id with a fresh reservation.
// Only the project owner may retry, and never on a quarantined project.
func (s *Service) RetryJob(ctx context.Context, jobID, userID string) (materialise.StatusView, error) {
	ctx, finish := s.begin(ctx, opRetryJob, userID)
	view, err := s.retryJob(ctx, jobID, userID)
	finish(jobID, err)
	return view, err
}

func (s *Service) retryJob(ctx context.Context, jobID, userID string) (materialise.StatusView, error) {
	if s.dispatcher == nil {
		return materialise.StatusView{}, ErrNoDispatcher
	}
	if err := s.check(struct {
		JobID  string `validate:"required"`
		UserID string `validate:"required"`
	}{jobID, userID}); err != nil {
		return materialise.StatusView{}, err
	}
	return s.dispatcher.Retry(ctx, jobID, func(tx domain.Transaction, job domain.Job, project domain.Project) error {
		if job.UserID != userID {
			return fmt.Errorf("%w: job %s", ErrNotOwner, jobID)
		}
		_, err := s.ownedProject(tx, project.ID, userID)
		return err
	})
}

// ListBlocks returns the materialised artifact rows of a project.
func (s *Service) ListBlocks(_ context.Context, projectID string) []domain.Block {
	return s.store.ListBlocks(projectID)
}

// TopUp credits a user's chip balance.
func (s *Service) TopUp(ctx context.Context, userID string, amount int64, note string) (domain.LedgerEntry, int64, error) {
	ctx, finish := s.begin(ctx, opTopUp, userID)
	entry, balance, err := s.ledger.TopUp(ctx, userID, amount, note)
	finish(entry.ID, err)
	return entry, balance, err
}

// Balance reads a user's chip balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.ledger.Balance(ctx, userID)
}

// ChipBalance reports the balance, pending deductions and what is left to
// reserve.
func (s *Service) ChipBalance(ctx context.Context, userID string) (ledger.BalanceSummary, error) {
	return s.ledger.Summary(ctx, userID)
}

// Reconcile resolves PENDING reservations older than olderThan.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Duration) (ledger.SweepReport, error) {
	ctx, finish := s.begin(ctx, opReconcile, "")
	report, err := s.reconciler.Sweep(ctx, olderThan)
	finish("", err)
	return report, err
}
