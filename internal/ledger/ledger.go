// Package ledger implements the two-phase chip reservation protocol: Reserve
// earmarks an amount, Commit debits it exactly once, Rollback releases it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genomeforge/internal/ephemeral"
	"genomeforge/internal/logging"
	"genomeforge/pkg/domain"
)

var (
	// ErrInvalidAmount is returned for negative reservations.
	ErrInvalidAmount = errors.New("ledger: amount must be non-negative")
	// ErrInsufficientChips is returned when a reservation exceeds the
	// effective balance.
	ErrInsufficientChips = errors.New("insufficient chip balance")
)

// BalanceSummary is a user's balance with open reservations taken off.
type BalanceSummary struct {
	UserID    string `json:"user_id"`
	Balance   int64  `json:"balance"`
	Pending   int64  `json:"pending_deductions"`
	Effective int64  `json:"effective_balance"`
}

// Summarise computes the balance summary of userID from a store view.
func Summarise(v domain.TransactionView, userID string) BalanceSummary {
	sum := BalanceSummary{UserID: userID, Balance: v.Balance(userID)}
	for _, e := range v.ListLedgerEntries(domain.LedgerFilter{UserID: userID, Status: domain.LedgerPending}) {
		sum.Pending += e.Amount
	}
	sum.Effective = sum.Balance - sum.Pending
	return sum
}

// Ledger runs every state change inside a store transaction, so the
// one-PENDING-per-tuple check and the insert cannot interleave.
type Ledger struct {
	store    domain.PersistentStore
	now      func() time.Time
	log      logging.Logger
	balances *ephemeral.BalanceCache
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log logging.Logger) Option {
	return func(l *Ledger) { l.log = logging.OrNoop(log) }
}

// WithBalanceCache enables cached balance reads; commits invalidate the cache.
func WithBalanceCache(c *ephemeral.BalanceCache) Option {
	return func(l *Ledger) { l.balances = c }
}

// New builds a ledger over store.
func New(store domain.PersistentStore, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: func() time.Time { return time.Now().UTC() }, log: logging.Noop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the backing store.
func (l *Ledger) Store() domain.PersistentStore { return l.store }

// Reserve creates a PENDING entry, failing with domain.ConflictError when one
// already exists for the same user, project and transaction type, and with
// ErrInsufficientChips when the effective balance cannot cover amount.
func (l *Ledger) Reserve(ctx context.Context, userID, projectID string, txType domain.TransactionType, amount int64) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		entry, err = l.ReserveIn(tx, userID, projectID, txType, amount)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	l.log.Info("ledger reserve", "entry_id", entry.ID, "user_id", userID, "project_id", projectID, "type", txType, "amount", amount)
	return entry, nil
}

// ReserveIn is Reserve inside a caller-owned transaction.
func (l *Ledger) ReserveIn(tx domain.Transaction, userID, projectID string, txType domain.TransactionType, amount int64) (domain.LedgerEntry, error) {
	if amount < 0 {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if userID == "" || projectID == "" || txType == "" {
		return domain.LedgerEntry{}, errors.New("ledger: user, project and transaction type are required")
	}
	if existing, ok := tx.FindPendingEntry(userID, projectID, txType); ok {
		return domain.LedgerEntry{}, domain.ConflictError{
			UserID:          userID,
			ProjectID:       projectID,
			TransactionType: txType,
			ExistingEntryID: existing.ID,
		}
	}
	if amount > 0 {
		if sum := Summarise(tx.Snapshot(), userID); sum.Effective < amount {
			return domain.LedgerEntry{}, fmt.Errorf("%w: %s has %d available, needs %d", ErrInsufficientChips, userID, sum.Effective, amount)
		}
	}
	return tx.CreateLedgerEntry(domain.LedgerEntry{
		UserID:          userID,
		ProjectID:       projectID,
		TransactionType: txType,
		Amount:          amount,
		Status:          domain.LedgerPending,
		Phase:           domain.PhaseReserve,
	})
}

// Commit finalises a PENDING entry and debits its amount. Committing an
// already COMMITTED entry is a no-op.
func (l *Ledger) Commit(ctx context.Context, entryID string) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	var debited bool
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		entry, debited, err = l.CommitIn(tx, entryID)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if debited {
		l.AfterCommit(ctx, entry)
	}
	return entry, nil
}

// CommitIn is Commit inside a caller-owned transaction. debited reports
// whether this call applied the balance delta.
func (l *Ledger) CommitIn(tx domain.Transaction, entryID string) (entry domain.LedgerEntry, debited bool, err error) {
	current, ok := tx.FindLedgerEntry(entryID)
	if !ok {
		return domain.LedgerEntry{}, false, domain.ErrNotFound{Entity: domain.EntityLedgerEntry, ID: entryID}
	}
	switch current.Status {
	case domain.LedgerCommitted:
		return current, false, nil
	case domain.LedgerPending:
	default:
		return domain.LedgerEntry{}, false, transition(current, domain.LedgerCommitted)
	}
	resolved := l.now()
	entry, err = tx.UpdateLedgerEntry(entryID, func(e *domain.LedgerEntry) error {
		e.Status = domain.LedgerCommitted
		e.Phase = domain.PhaseCommit
		e.ResolvedAt = &resolved
		return nil
	})
	if err != nil {
		return domain.LedgerEntry{}, false, err
	}
	if _, err := tx.IncrementBalance(entry.UserID, -entry.Amount); err != nil {
		return domain.LedgerEntry{}, false, fmt.Errorf("debit %s: %w", entry.UserID, err)
	}
	return entry, true, nil
}

// AfterCommit runs post-transaction side effects for a debited entry.
func (l *Ledger) AfterCommit(ctx context.Context, entry domain.LedgerEntry) {
	l.log.Info("ledger commit", "entry_id", entry.ID, "user_id", entry.UserID, "amount", entry.Amount)
	l.invalidateBalance(ctx, entry.UserID)
}

// Rollback releases a PENDING entry without touching the balance. Entries
// already FAILED or ROLLEDBACK are returned unchanged.
func (l *Ledger) Rollback(ctx context.Context, entryID string) (domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		entry, err = l.RollbackIn(tx, entryID, "")
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	l.log.Info("ledger rollback", "entry_id", entry.ID, "user_id", entry.UserID)
	return entry, nil
}

// RollbackIn is Rollback inside a caller-owned transaction; note is kept on the entry.
func (l *Ledger) RollbackIn(tx domain.Transaction, entryID, note string) (domain.LedgerEntry, error) {
	current, ok := tx.FindLedgerEntry(entryID)
	if !ok {
		return domain.LedgerEntry{}, domain.ErrNotFound{Entity: domain.EntityLedgerEntry, ID: entryID}
	}
	switch current.Status {
	case domain.LedgerFailed, domain.LedgerRolledBack:
		return current, nil
	case domain.LedgerPending:
	default:
		return domain.LedgerEntry{}, transition(current, domain.LedgerFailed)
	}
	resolved := l.now()
	return tx.UpdateLedgerEntry(entryID, func(e *domain.LedgerEntry) error {
		e.Status = domain.LedgerFailed
		e.Phase = domain.PhaseRollback
		e.ResolvedAt = &resolved
		if note != "" {
			e.Note = note
		}
		return nil
	})
}

// Pending returns the open reservation for the tuple, if any.
func (l *Ledger) Pending(ctx context.Context, userID, projectID string, txType domain.TransactionType) (domain.LedgerEntry, bool, error) {
	var entry domain.LedgerEntry
	var found bool
	err := l.store.View(ctx, func(v domain.TransactionView) error {
		entry, found = v.FindPendingEntry(userID, projectID, txType)
		return nil
	})
	return entry, found, err
}

// AttachJob records which job a reservation pays for.
func (l *Ledger) AttachJob(tx domain.Transaction, entryID, jobID string) (domain.LedgerEntry, error) {
	return tx.UpdateLedgerEntry(entryID, func(e *domain.LedgerEntry) error {
		e.JobID = jobID
		return nil
	})
}

// TopUp credits a user with a COMMITTED top-up entry in one transaction.
func (l *Ledger) TopUp(ctx context.Context, userID string, amount int64, note string) (domain.LedgerEntry, int64, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, 0, fmt.Errorf("%w: top-up of %d", ErrInvalidAmount, amount)
	}
	var entry domain.LedgerEntry
	var balance int64
	_, err := l.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		resolved := l.now()
		var err error
		entry, err = tx.CreateLedgerEntry(domain.LedgerEntry{
			UserID:          userID,
			TransactionType: domain.TxTopUp,
			Amount:          amount,
			Status:          domain.LedgerCommitted,
			Phase:           domain.PhaseCommit,
			Note:            note,
			ResolvedAt:      &resolved,
		})
		if err != nil {
			return err
		}
		balance, err = tx.IncrementBalance(userID, amount)
		return err
	})
	if err != nil {
		return domain.LedgerEntry{}, 0, err
	}
	l.invalidateBalance(ctx, userID)
	return entry, balance, nil
}

// Balance reads a user's balance, through the cache when one is configured.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	load := func() (int64, error) { return l.store.Balance(userID), nil }
	if l.balances == nil {
		return load()
	}
	return l.balances.Get(ctx, userID, load)
}

// Summary reads the balance together with pending deductions.
func (l *Ledger) Summary(ctx context.Context, userID string) (BalanceSummary, error) {
	var sum BalanceSummary
	err := l.store.View(ctx, func(v domain.TransactionView) error {
		sum = Summarise(v, userID)
		return nil
	})
	return sum, err
}

func (l *Ledger) invalidateBalance(ctx context.Context, userID string) {
	if l.balances == nil {
		return
	}
	if err := l.balances.Invalidate(ctx, userID); err != nil {
		l.log.Warn("balance cache invalidate failed", "user_id", userID, "error", err)
	}
}

func transition(e domain.LedgerEntry, to domain.LedgerStatus) error {
	return domain.TransitionError{Entity: domain.EntityLedgerEntry, ID: e.ID, From: string(e.Status), To: string(to)}
}
