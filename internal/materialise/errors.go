package materialise

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrInFlight is returned when a job is already running.
	ErrInFlight = errors.New("job already in flight")
	// ErrNotRetryable is returned by Retry for jobs that have not FAILED.
	ErrNotRetryable = errors.New("only FAILED jobs can be retried")
)

// GenerationError reports a generator failure for one node. It aborts the job.
type GenerationError struct {
	JobID  string
	NodeID string
	Type   string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s node %s for job %s: %v", e.Type, e.NodeID, e.JobID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write of artifacts or job state.
type PersistenceError struct {
	JobID string
	Op    string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
