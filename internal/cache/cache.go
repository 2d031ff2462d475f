// Package cache implements the Step Cache (§4.F): a tenant-isolated,
// content-fingerprint-keyed memo of prior step results with single-flight
// deduplication of concurrent producers for the same key.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is the immutable value stored per key (§3 StepCacheEntry).
type Entry struct {
	ResultEnvelopeSnapshot []byte
	ArtifactIDs            []string
	CreatedAt              time.Time
}

// Key identifies a cache entry. Tenant isolation is structural: the
// tenant id is always part of the composed key, so lookups across tenants
// are impossible through the public surface.
type Key struct {
	TenantID     string
	SkillID      string
	SkillVersion string
	Fingerprint  string
}

// String renders the composite key. Entries are versioned by skill version
// embedded in the key, so a new skill version never reads an old entry.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.TenantID, k.SkillID, k.SkillVersion, k.Fingerprint)
}

// ArtifactChecker reports whether an artifact id still exists. A cache hit
// whose artifact ids no longer resolve is treated as absent (§4.F
// freshness rule).
type ArtifactChecker interface {
	Exists(ctx context.Context, artifactID string) (bool, error)
}

// Cache is the Step Cache contract.
type Cache interface {
	Lookup(ctx context.Context, key Key) (*Entry, bool, error)
	Insert(ctx context.Context, key Key, entry Entry, ttl time.Duration) error
	// SingleFlight ensures at most one producer for key runs concurrently
	// across the process; other callers for the same key block on the
	// same result. On a cache hit, produce is never invoked.
	SingleFlight(ctx context.Context, key Key, ttl time.Duration, produce func() (Entry, error)) (Entry, bool, error)
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time // zero means unbounded
}

// MemoryCache is an in-memory Step Cache with optional per-entry TTL and
// single-flight producer deduplication.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	group   singleflight.Group
	checker ArtifactChecker
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithArtifactChecker installs the callback used to invalidate entries
// whose referenced artifacts have been purged.
func WithArtifactChecker(c ArtifactChecker) Option {
	return func(mc *MemoryCache) { mc.checker = c }
}

// NewMemoryCache constructs a MemoryCache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	mc := &MemoryCache{entries: make(map[string]*memoryEntry)}
	for _, opt := range opts {
		opt(mc)
	}
	return mc
}

// Lookup implements Cache.
func (mc *MemoryCache) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	mc.mu.RLock()
	me, ok := mc.entries[key.String()]
	mc.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !me.expiresAt.IsZero() && time.Now().After(me.expiresAt) {
		mc.mu.Lock()
		delete(mc.entries, key.String())
		mc.mu.Unlock()
		return nil, false, nil
	}

	if mc.checker != nil {
		for _, id := range me.entry.ArtifactIDs {
			exists, err := mc.checker.Exists(ctx, id)
			if err != nil {
				return nil, false, fmt.Errorf("cache: check artifact %s: %w", id, err)
			}
			if !exists {
				mc.mu.Lock()
				delete(mc.entries, key.String())
				mc.mu.Unlock()
				return nil, false, nil
			}
		}
	}

	entryCopy := me.entry
	return &entryCopy, true, nil
}

// Insert implements Cache. ttl of zero means unbounded (default per
// descriptor when no per-skill TTL is configured).
func (mc *MemoryCache) Insert(ctx context.Context, key Key, entry Entry, ttl time.Duration) error {
	me := &memoryEntry{entry: entry}
	if ttl > 0 {
		me.expiresAt = time.Now().Add(ttl)
	}
	mc.mu.Lock()
	mc.entries[key.String()] = me
	mc.mu.Unlock()
	return nil
}

// SingleFlight implements Cache. At most one produce call runs per key
// across the process; concurrent callers for the same key share the
// result, preventing duplicate heavy work (image/video generation) under
// retries or parallel branches that fingerprint the same.
func (mc *MemoryCache) SingleFlight(ctx context.Context, key Key, ttl time.Duration, produce func() (Entry, error)) (Entry, bool, error) {
	if existing, hit, err := mc.Lookup(ctx, key); err != nil {
		return Entry{}, false, err
	} else if hit {
		return *existing, true, nil
	}

	v, err, _ := mc.group.Do(key.String(), func() (any, error) {
		// Re-check under the single-flight group in case a concurrent
		// caller inserted between our Lookup above and acquiring the
		// group's lock for this key.
		if existing, hit, err := mc.Lookup(ctx, key); err != nil {
			return nil, err
		} else if hit {
			return *existing, nil
		}

		entry, err := produce()
		if err != nil {
			return nil, err
		}
		if err := mc.Insert(ctx, key, entry, ttl); err != nil {
			return nil, err
		}
		return entry, nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return v.(Entry), false, nil
}
