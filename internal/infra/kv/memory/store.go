// Package memory implements the ephemeral store on patrickmn/go-cache.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const cleanupInterval = 30 * time.Second

// Store keeps values as strings in a go-cache instance. Incr and Expire take a
// store-wide lock so a read-modify-write on one key never interleaves with another.
type Store struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// New returns an empty store that purges expired keys periodically.
func New() *Store {
	return &Store{cache: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func ttlFor(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Set(key, value, ttlFor(ttl))
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	str, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("kv: key %s holds %T", key, v)
	}
	return str, true, nil
}

// Incr keeps the remaining TTL of an existing key, matching redis INCR.
func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, expiresAt, found := s.cache.GetWithExpiration(key)
	var current int64
	if found {
		str, _ := raw.(string)
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: value at %s is not an integer", key)
		}
		current = n
	}
	current++
	ttl := gocache.NoExpiration
	if found && !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}
	s.cache.Set(key, strconv.FormatInt(current, 10), ttl)
	return current, nil
}

// Expire resets the TTL of an existing key; missing keys are ignored.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	s.cache.Set(key, v, ttlFor(ttl))
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// Flush drops every key.
func (s *Store) Flush() { s.cache.Flush() }

// Close is a no-op; the janitor goroutine stops when the store is collected.
func (s *Store) Close() error { return nil }
