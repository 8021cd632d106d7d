package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"genomeforge/pkg/domain"
)

// DefaultSweepAge matches the lifetime of a job's status mirror.
const DefaultSweepAge = time.Hour

const sweepConcurrency = 4

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Examined   int
	Committed  []string
	RolledBack []string
	Errors     map[string]error
}

// Reconciler resolves PENDING reservations the pipeline failed to finalise,
// typically because the process died mid-job or the cleanup write failed.
type Reconciler struct {
	ledger *Ledger
}

// NewReconciler binds a reconciler to l.
func NewReconciler(l *Ledger) *Reconciler { return &Reconciler{ledger: l} }

// Sweep resolves every PENDING entry created more than olderThan ago against
// its job: PASSED commits; anything else rolls back and fails the job.
// Entries are independent, so one failure does not stop the pass.
func (r *Reconciler) Sweep(ctx context.Context, olderThan time.Duration) (SweepReport, error) {
	if olderThan <= 0 {
		olderThan = DefaultSweepAge
	}
	l := r.ledger
	stale := l.store.ListLedgerEntries(domain.LedgerFilter{
		Status:        domain.LedgerPending,
		CreatedBefore: l.now().Add(-olderThan),
	})
	report := SweepReport{Examined: len(stale), Errors: map[string]error{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, entry := range stale {
		entry := entry
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			committed, err := r.resolve(gctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors[entry.ID] = err
			case committed:
				report.Committed = append(report.Committed, entry.ID)
			default:
				report.RolledBack = append(report.RolledBack, entry.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	l.log.Info("ledger sweep finished", "examined", report.Examined, "committed", len(report.Committed),
		"rolled_back", len(report.RolledBack), "errors", len(report.Errors))
	return report, nil
}

func (r *Reconciler) resolve(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	l := r.ledger
	var committed, debited bool
	var resolved domain.LedgerEntry
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var job domain.Job
		var hasJob bool
		if entry.JobID != "" {
			job, hasJob = tx.FindJob(entry.JobID)
		}
		if hasJob && job.Status == domain.JobPassed {
			var err error
			resolved, debited, err = l.CommitIn(tx, entry.ID)
			committed = true
			return err
		}
		if hasJob && !job.Status.Terminal() {
			finished := l.now()
			if _, err := tx.UpdateJob(job.ID, func(j *domain.Job) error {
				j.Status = domain.JobFailed
				j.Progress = 0
				j.Error = "abandoned: reservation expired before the job finished"
				j.FinishedAt = &finished
				return nil
			}); err != nil {
				return err
			}
		}
		_, err := l.RollbackIn(tx, entry.ID, fmt.Sprintf("reconciled after %s", l.now().Sub(entry.CreatedAt).Round(time.Second)))
		return err
	})
	if err != nil {
		l.log.Error("ledger reconcile failed", "entry_id", entry.ID, "error", err)
		return false, err
	}
	if debited {
		l.AfterCommit(ctx, resolved)
	}
	return committed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval, olderThan time.Duration) error {
	if interval <= 0 {
		interval = olderThan
	}
	if interval <= 0 {
		interval = DefaultSweepAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx, olderThan); err != nil && ctx.Err() == nil {
				r.ledger.log.Warn("ledger sweep aborted", "error", err)
			}
		}
	}
}
