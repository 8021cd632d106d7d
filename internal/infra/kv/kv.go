// Package kv defines the ephemeral key-value contract used for job status,
// rate limits and read-through caches, and selects a backend from the environment.
package kv

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"genomeforge/internal/infra/kv/memory"
	"genomeforge/internal/infra/kv/redis"
)

// Store is a TTL-aware string key-value store. A zero ttl means no expiry.
// Incr is atomic per key and starts missing keys at zero.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*redis.Store)(nil)
)

// Driver names a backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvDriver        = "GENOMEFORGE_KV_DRIVER"
	EnvRedisAddr     = "GENOMEFORGE_REDIS_ADDR"
	EnvRedisPassword = "GENOMEFORGE_REDIS_PASSWORD"
	EnvRedisDB       = "GENOMEFORGE_REDIS_DB"
	EnvSentinels     = "GENOMEFORGE_REDIS_SENTINELS"
	EnvMasterName    = "GENOMEFORGE_REDIS_MASTER"
)

// Config selects and parameterises a backend.
type Config struct {
	Driver Driver       `yaml:"driver"`
	Redis  redis.Config `yaml:"redis"`
}

// ConfigFromEnv reads GENOMEFORGE_KV_DRIVER and the GENOMEFORGE_REDIS_* variables.
// The driver defaults to memory.
func ConfigFromEnv() (Config, error) {
	cfg := Config{Driver: Driver(os.Getenv(EnvDriver))}
	if cfg.Driver == "" {
		cfg.Driver = DriverMemory
	}
	cfg.Redis.Addr = os.Getenv(EnvRedisAddr)
	cfg.Redis.Password = os.Getenv(EnvRedisPassword)
	cfg.Redis.MasterName = os.Getenv(EnvMasterName)
	if raw := os.Getenv(EnvSentinels); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Redis.SentinelAddrs = append(cfg.Redis.SentinelAddrs, addr)
			}
		}
	}
	if raw := os.Getenv(EnvRedisDB); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", EnvRedisDB, err)
		}
		cfg.Redis.DB = db
	}
	return cfg, nil
}

// Open builds a store from the environment.
func Open(ctx context.Context) (Store, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return OpenConfig(ctx, cfg)
}

// OpenConfig builds a store for cfg. The redis backend is pinged before return.
func OpenConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverRedis:
		return redis.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown kv driver %q", cfg.Driver)
	}
}
