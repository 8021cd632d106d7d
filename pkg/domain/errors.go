package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is matched by ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is matched by TransitionError.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// ConflictError reports an existing PENDING reservation for the same
// (user, project, transaction type) tuple. Callers should inspect the
// existing job rather than retry.
type ConflictError struct {
	UserID          string
	ProjectID       string
	TransactionType TransactionType
	ExistingEntryID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("pending %s reservation %s already exists for user %s on project %s",
		e.TransactionType, e.ExistingEntryID, e.UserID, e.ProjectID)
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e ConflictError) Is(target error) bool { return target == ErrConflict }

// TransitionError reports a state change the entity's state machine forbids.
type TransitionError struct {
	Entity EntityType
	ID     string
	From   string
	To     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) hold.
func (e TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
