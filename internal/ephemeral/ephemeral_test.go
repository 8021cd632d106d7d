package ephemeral

import (
	"context"
	"errors"
	"testing"
	"time"

	"genomeforge/internal/infra/kv/memory"
	"genomeforge/pkg/domain"
	"genomeforge/pkg/genome"
)

func TestKeyPatterns(t *testing.T) {
	cases := map[string]string{
		JobStatusKey("j1"):        "materialise:job:j1:status",
		JobProgressKey("j1"):      "materialise:job:j1:progress",
		OracleRateKey("u1", "s1"): "oracle:ratelimit:u1:s1",
		MaterialiseRateKey("u1"):  "materialize:rate:u1",
		BalanceKey("u1"):          "chip:balance:cache:u1",
		GenomeKey("p1"):           "dna:cache:p1",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestStatusBoardRoundTrip(t *testing.T) {
	ctx := context.Background()
	board := NewStatusBoard(memory.New())
	if _, found, err := board.Get(ctx, "j1"); err != nil || found {
		t.Fatalf("expected miss, got %v %v", found, err)
	}
	if err := board.Set(ctx, "j1", domain.JobRunning, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := board.SetProgress(ctx, "j1", 50); err != nil {
		t.Fatalf("progress: %v", err)
	}
	view, found, err := board.Get(ctx, "j1")
	if err != nil || !found {
		t.Fatalf("expected hit, got %v %v", found, err)
	}
	if view.Status != domain.JobRunning || view.Progress != 50 {
		t.Fatalf("expected RUNNING/50, got %+v", view)
	}
}

func TestFixedWindowLimiter(t *testing.T) {
	ctx := context.Background()
	limiter := NewFixedWindowLimiter(memory.New())
	key := OracleRateKey("u1", "s1")
	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, key, 3, 30*time.Millisecond)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v %v", i, d, err)
		}
		if d.Remaining != int64(3-i) {
			t.Fatalf("request %d: expected remaining %d, got %d", i, 3-i, d.Remaining)
		}
	}
	d, err := limiter.Enforce(ctx, key, 3, 30*time.Millisecond)
	if !errors.Is(err, ErrRateLimited) || d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected rate limited with zero remaining, got %+v %v", d, err)
	}
	time.Sleep(60 * time.Millisecond)
	if d, err := limiter.Enforce(ctx, key, 3, 30*time.Millisecond); err != nil || d.Count != 1 {
		t.Fatalf("expected fresh window, got %+v %v", d, err)
	}
}

func TestBalanceCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	cache := NewBalanceCache(memory.New())
	loads := 0
	load := func() (int64, error) { loads++; return 42, nil }
	for i := 0; i < 3; i++ {
		v, err := cache.Get(ctx, "u1", load)
		if err != nil || v != 42 {
			t.Fatalf("expected 42, got %d %v", v, err)
		}
	}
	if loads != 1 {
		t.Fatalf("expected one load, got %d", loads)
	}
	_ = cache.Invalidate(ctx, "u1")
	_, _ = cache.Get(ctx, "u1", load)
	if loads != 2 {
		t.Fatalf("expected reload after invalidate, got %d", loads)
	}
	boom := errors.New("boom")
	_ = cache.Invalidate(ctx, "u1")
	if _, err := cache.Get(ctx, "u1", func() (int64, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestGenomeCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	cache := NewGenomeCache(memory.New())
	g := genome.Genome{{ID: "n1", Type: "hero", Props: genome.Props{"title": genome.String("Hi")}}}
	loads := 0
	load := func() (genome.Genome, error) { loads++; return g, nil }
	first, err := cache.Get(ctx, "p1", load)
	if err != nil || len(first) != 1 {
		t.Fatalf("expected genome, got %v %v", first, err)
	}
	second, err := cache.Get(ctx, "p1", load)
	if err != nil || loads != 1 {
		t.Fatalf("expected cached genome, loads=%d err=%v", loads, err)
	}
	if title, _ := second[0].Props["title"].AsString(); title != "Hi" {
		t.Fatalf("expected props to survive cache, got %q", title)
	}
	_ = cache.Invalidate(ctx, "p1")
	_, _ = cache.Get(ctx, "p1", load)
	if loads != 2 {
		t.Fatalf("expected reload after invalidate, got %d", loads)
	}
}
