package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genomeforge/internal/infra/kv"
)

// ErrRateLimited is returned by Enforce when a window's budget is spent.
var ErrRateLimited = errors.New("rate limit exceeded")

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed   bool
	Count     int64
	Remaining int64
	Limit     int64
}

// FixedWindowLimiter counts requests per key with INCR, arming the window TTL on the first hit.
type FixedWindowLimiter struct {
	kv kv.Store
}

func NewFixedWindowLimiter(store kv.Store) *FixedWindowLimiter {
	return &FixedWindowLimiter{kv: store}
}

// Allow counts one request against key.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	count, err := l.kv.Incr(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := l.kv.Expire(ctx, key, window); err != nil {
			return Decision{}, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= limit, Count: count, Remaining: remaining, Limit: limit}, nil
}

// Enforce is Allow returning ErrRateLimited when the request is over budget.
func (l *FixedWindowLimiter) Enforce(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	d, err := l.Allow(ctx, key, limit, window)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, fmt.Errorf("%w: %s (%d/%d)", ErrRateLimited, key, d.Count, d.Limit)
	}
	return d, nil
}
