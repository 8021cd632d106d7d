package ephemeral

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"genomeforge/internal/infra/kv"
	"genomeforge/pkg/genome"
)

// BalanceCache caches chip balances for BalanceCacheTTL.
type BalanceCache struct {
	kv kv.Store
}

func NewBalanceCache(store kv.Store) *BalanceCache { return &BalanceCache{kv: store} }

// Get returns the cached balance or calls load and caches its result.
func (c *BalanceCache) Get(ctx context.Context, userID string, load func() (int64, error)) (int64, error) {
	key := BalanceKey(userID)
	if raw, ok, err := c.kv.Get(ctx, key); err == nil && ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return 0, err
	}
	if err := c.kv.Set(ctx, key, strconv.FormatInt(v, 10), BalanceCacheTTL); err != nil {
		return v, fmt.Errorf("cache balance: %w", err)
	}
	return v, nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	return c.kv.Delete(ctx, BalanceKey(userID))
}

// GenomeCache keeps a project's genome until the next mutation invalidates it.
type GenomeCache struct {
	kv kv.Store
}

func NewGenomeCache(store kv.Store) *GenomeCache { return &GenomeCache{kv: store} }

// Get returns the cached genome, falling back to load on a miss or an undecodable entry.
func (c *GenomeCache) Get(ctx context.Context, projectID string, load func() (genome.Genome, error)) (genome.Genome, error) {
	key := GenomeKey(projectID)
	if raw, ok, err := c.kv.Get(ctx, key); err == nil && ok {
		if g, err := genome.Parse([]byte(raw)); err == nil {
			return g, nil
		}
	}
	g, err := load()
	if err != nil {
		return nil, err
	}
	return g, c.Put(ctx, projectID, g)
}

func (c *GenomeCache) Put(ctx context.Context, projectID string, g genome.Genome) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode genome: %w", err)
	}
	return c.kv.Set(ctx, GenomeKey(projectID), string(payload), GenomeCacheTTL)
}

func (c *GenomeCache) Invalidate(ctx context.Context, projectID string) error {
	return c.kv.Delete(ctx, GenomeKey(projectID))
}
