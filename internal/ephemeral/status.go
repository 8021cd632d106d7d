package ephemeral

import (
	"context"
	"fmt"
	"strconv"

	"genomeforge/internal/infra/kv"
	"genomeforge/pkg/domain"
)

// StatusBoard mirrors job status and progress for pollers. Entries expire after JobTTL.
type StatusBoard struct {
	kv kv.Store
}

// NewStatusBoard binds a board to store.
func NewStatusBoard(store kv.Store) *StatusBoard { return &StatusBoard{kv: store} }

// JobView is what a poller sees for a job.
type JobView struct {
	Status   domain.JobStatus
	Progress int
}

func (b *StatusBoard) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	return b.kv.Set(ctx, JobStatusKey(jobID), string(status), JobTTL)
}

func (b *StatusBoard) SetProgress(ctx context.Context, jobID string, progress int) error {
	return b.kv.Set(ctx, JobProgressKey(jobID), strconv.Itoa(progress), JobTTL)
}

// Set writes status and progress together.
func (b *StatusBoard) Set(ctx context.Context, jobID string, status domain.JobStatus, progress int) error {
	if err := b.SetStatus(ctx, jobID, status); err != nil {
		return err
	}
	return b.SetProgress(ctx, jobID, progress)
}

// Get returns the mirrored view. found is false when the status key is absent or expired.
func (b *StatusBoard) Get(ctx context.Context, jobID string) (JobView, bool, error) {
	status, ok, err := b.kv.Get(ctx, JobStatusKey(jobID))
	if err != nil || !ok {
		return JobView{}, false, err
	}
	view := JobView{Status: domain.JobStatus(status)}
	raw, ok, err := b.kv.Get(ctx, JobProgressKey(jobID))
	if err != nil {
		return JobView{}, false, err
	}
	if ok {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return JobView{}, false, fmt.Errorf("progress for job %s: %w", jobID, err)
		}
		view.Progress = p
	}
	return view, true, nil
}
