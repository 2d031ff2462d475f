package queue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper guards against a run being enqueued twice while it is already
// in-flight. The orchestrator computes the dedup key as "run-<runId>" (§6.5)
// before publishing; Release is called once the run reaches a terminal state,
// with the removeOnComplete/removeOnFail split letting a failed run's key
// linger so a naive re-publish doesn't silently race a retry that is still
// being decided by an operator.
type Deduper interface {
	// TryAcquire reports whether key was not already held, claiming it if so.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees key so a future TryAcquire for it succeeds.
	Release(ctx context.Context, key string) error
}

// RunDedupKey returns the dedup key for runID per §6.5.
func RunDedupKey(runID string) string { return "run-" + runID }

// inmemDeduper is a process-local Deduper for tests and single-node runs.
type inmemDeduper struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewInMemoryDeduper returns a Deduper backed by an in-process map.
func NewInMemoryDeduper() Deduper {
	return &inmemDeduper{held: make(map[string]time.Time)}
}

func (d *inmemDeduper) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.held[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	expiry := time.Now().Add(ttl)
	if ttl <= 0 {
		expiry = time.Now().Add(24 * time.Hour)
	}
	d.held[key] = expiry
	return true, nil
}

func (d *inmemDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.held, key)
	return nil
}

// redisDeduper backs Deduper with Redis SETNX, so dedup state is shared
// across every orchestrator worker process consuming the same stream.
type redisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper returns a Deduper backed by a shared Redis connection.
func NewRedisDeduper(client *redis.Client) Deduper {
	return &redisDeduper{client: client}
}

func (d *redisDeduper) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ok, err := d.client.SetNX(ctx, dedupRedisKey(key), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (d *redisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupRedisKey(key)).Err()
}

func dedupRedisKey(key string) string { return "orchestrator:dedup:" + key }
