// Package webhook stores which processor webhook events have already been
// handled, so redeliveries can be skipped before touching the database.
package webhook

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard records handled events with SETNX so every replica sees them.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose keys live under prefix for ttl.
func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) key(k string) string {
	return g.prefix + ":" + k
}

// CheckAndMark sets key unless it exists and reports whether it was set.
func (g *RedisGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Delete removes key.
func (g *RedisGuard) Delete(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// MemoryGuard is the single-process guard used when Redis is not configured.
// Entries expire lazily after ttl.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryGuard creates an in-memory guard.
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// CheckAndMark records key unless a live entry exists.
func (g *MemoryGuard) CheckAndMark(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if marked, ok := g.entries[key]; ok && (g.ttl <= 0 || now.Sub(marked) < g.ttl) {
		return false, nil
	}
	g.entries[key] = now
	return true, nil
}

// Delete forgets key.
func (g *MemoryGuard) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, key)
	return nil
}

// Len returns the number of entries, including expired ones.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
