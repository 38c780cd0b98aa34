// Package cache stores rendered API responses for a short time so repeated
// requests skip projection work.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), now: now}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, ErrMiss
	}
	return e.val, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Drop expired entries while holding the lock anyway.
	now := m.now()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	m.entries[key] = memoryEntry{val: append([]byte(nil), val...), expiresAt: now.Add(ttl)}
	return nil
}

// RedisStore keeps entries in Redis under a key prefix.
type RedisStore struct {
	pool   *redis.Pool
	prefix string
}

// NewRedisPool dials addr ("host:port" or a redis:// URL).
func NewRedisPool(addr string) *redis.Pool {
	dial := func(ctx context.Context) (redis.Conn, error) {
		if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
			return redis.DialURL(addr)
		}
		return redis.DialContext(ctx, "tcp", addr)
	}
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return dial(context.Background())
		},
		DialContext: dial,
	}
}

func NewRedisStore(pool *redis.Pool, prefix string) *RedisStore {
	return &RedisStore{pool: pool, prefix: prefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	defer conn.Close()

	val, err := redis.Bytes(conn.Do("GET", r.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get: %w", err)
	}
	return val, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Do("SET", r.prefix+key, val, "PX", ttl.Milliseconds()); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.pool.Close() }
