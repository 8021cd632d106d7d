// Package redis implements the ephemeral store on go-redis, optionally behind sentinels.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const pingTimeout = 5 * time.Second

// Config addresses either a single node (Addr) or a sentinel group (SentinelAddrs + MasterName).
type Config struct {
	Addr          string   `yaml:"addr"`
	Password      string   `yaml:"password"`
	DB            int      `yaml:"db"`
	SentinelAddrs []string `yaml:"sentinel_addrs"`
	MasterName    string   `yaml:"master_name"`
}

// Store wraps a go-redis client.
type Store struct {
	client *goredis.Client
}

// New connects and pings. An empty Addr without sentinels defaults to localhost:6379.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var client *goredis.Client
	if len(cfg.SentinelAddrs) > 0 {
		master := cfg.MasterName
		if master == "" {
			master = "mymaster"
		}
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:       master,
			SentinelAddrs:    cfg.SentinelAddrs,
			SentinelPassword: cfg.Password,
			Password:         cfg.Password,
			DB:               cfg.DB,
		})
	} else {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = goredis.NewClient(&goredis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	}
	s := &Store{client: client}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client) *Store { return &Store{client: client} }

// Ping checks reachability within a bounded timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return s.client.Persist(ctx, key).Err()
	}
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *Store) Close() error { return s.client.Close() }
