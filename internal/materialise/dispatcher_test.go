package materialise

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

func waitDone(t *testing.T, d *Dispatcher, jobID string) {
	t.Helper()
	select {
	case <-d.Done(jobID):
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", jobID)
	}
}

func TestDispatcherSubmitReturnsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	gen := GeneratorFunc(func(ctx context.Context, blockType string, _ genome.Props, _ string) (string, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return blockType, nil
	})
	h := newHarness(t, gen, nil)
	d := NewDispatcher(h.pipeline, 2, nil)
	defer d.Close()
	job := h.seed(t, sampleGenome(), 12)

	id, err := d.Submit(context.Background(), Request{Job: job, Genome: sampleGenome()})
	if err != nil || id != job.ID {
		t.Fatalf("submit: id=%s err=%v", id, err)
	}
	if _, err := d.Submit(context.Background(), Request{Job: job, Genome: sampleGenome()}); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := d.Status(context.Background(), job.ID)
		if err == nil && view.Status == domain.JobRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected RUNNING status, got %+v err=%v", view, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	waitDone(t, d, job.ID)
	d.mu.Lock()
	tracked := len(d.inflight)
	d.mu.Unlock()
	if tracked != 0 {
		t.Fatalf("expected finished job dropped from tracking, got %d entries", tracked)
	}
	view, err := d.Status(context.Background(), job.ID)
	if err != nil || view.Status != domain.JobPassed || view.Progress != 100 || view.Source != SourceBoard {
		t.Fatalf("expected PASSED from board, got %+v err=%v", view, err)
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	gen := GeneratorFunc(func(_ context.Context, blockType string, _ genome.Props, _ string) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return blockType, nil
	})
	h := newHarness(t, gen, nil)
	d := NewDispatcher(h.pipeline, 2, nil)
	defer d.Close()
	g := genome.Genome{{ID: "a", Type: "a"}}
	for i := 0; i < 6; i++ {
		job := h.seed(t, g, 10)
		if _, err := d.Submit(context.Background(), Request{Job: job, Genome: g}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if peak.Load() > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, got %d", peak.Load())
	}
	if h.store.Balance("u1") != 0 {
		t.Fatalf("expected six debits of 10, got %d", h.store.Balance("u1"))
	}
}

func TestDispatcherStatusFallsBackToDurableRow(t *testing.T) {
	h := newHarness(t, echoGenerator(), nil)
	d := NewDispatcher(h.pipeline, 1, nil)
	defer d.Close()
	job := h.seed(t, sampleGenome(), 12)

	view, err := d.Status(context.Background(), job.ID)
	if err != nil || view.Source != SourceDurable || view.Status != domain.JobPending {
		t.Fatalf("expected durable PENDING, got %+v err=%v", view, err)
	}
	if _, err := d.Status(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDispatcherRetryReusesJobID(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	gen := GeneratorFunc(func(_ context.Context, blockType string, _ genome.Props, _ string) (string, error) {
		if fail.Load() {
			return "", errors.New("upstream down")
		}
		return blockType, nil
	})
	h := newHarness(t, gen, nil)
	d := NewDispatcher(h.pipeline, 1, nil)
	defer d.Close()
	job := h.seed(t, sampleGenome(), 12)

	if _, err := d.Retry(context.Background(), job.ID, nil); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("expected pending job not retryable, got %v", err)
	}
	if _, err := d.Submit(context.Background(), Request{Job: job, Genome: sampleGenome()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, d, job.ID)
	if got, _ := h.store.GetJob(job.ID); got.Status != domain.JobFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}

	fail.Store(false)
	if _, err := d.Retry(context.Background(), job.ID, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}
	waitDone(t, d, job.ID)
	got, _ := h.store.GetJob(job.ID)
	if got.Status != domain.JobPassed || got.Attempts != 2 {
		t.Fatalf("expected PASSED on attempt 2, got %s attempt %d", got.Status, got.Attempts)
	}
	if got.LedgerEntryID == job.LedgerEntryID {
		t.Fatalf("expected a fresh reservation on retry")
	}
	if h.store.Balance("u1") != 12-EstimateChipCost(sampleGenome(), 0) {
		t.Fatalf("expected one debit, got %d", h.store.Balance("u1"))
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	h := newHarness(t, echoGenerator(), nil)
	d := NewDispatcher(h.pipeline, 1, nil)
	d.Close()
	job := h.seed(t, sampleGenome(), 12)
	if _, err := d.Submit(context.Background(), Request{Job: job, Genome: sampleGenome()}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
