package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campaignforge/engine/internal/cache"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := cache.NewMemoryCache()
	_, hit, err := c.Lookup(context.Background(), cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "abc"})
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInsertThenLookupHits(t *testing.T) {
	c := cache.NewMemoryCache()
	key := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "abc"}
	entry := cache.Entry{ArtifactIDs: []string{"art-1"}, CreatedAt: time.Now()}

	require.NoError(t, c.Insert(context.Background(), key, entry, 0))

	got, hit, err := c.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, entry.ArtifactIDs, got.ArtifactIDs)
}

func TestTenantIsolation(t *testing.T) {
	c := cache.NewMemoryCache()
	key1 := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "same"}
	key2 := cache.Key{TenantID: "t2", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "same"}

	require.NoError(t, c.Insert(context.Background(), key1, cache.Entry{}, 0))

	_, hit, err := c.Lookup(context.Background(), key2)
	require.NoError(t, err)
	assert.False(t, hit, "a fingerprint match for another tenant must never be visible")
}

func TestSkillVersionIsolation(t *testing.T) {
	c := cache.NewMemoryCache()
	keyV1 := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "same"}
	keyV2 := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "2.0.0", Fingerprint: "same"}

	require.NoError(t, c.Insert(context.Background(), keyV1, cache.Entry{}, 0))

	_, hit, err := c.Lookup(context.Background(), keyV2)
	require.NoError(t, err)
	assert.False(t, hit, "a new skill version must never read an old version's entry")
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := cache.NewMemoryCache()
	key := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "abc"}
	require.NoError(t, c.Insert(context.Background(), key, cache.Entry{}, 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, hit, err := c.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, hit)
}

type checkerFunc func(ctx context.Context, id string) (bool, error)

func (f checkerFunc) Exists(ctx context.Context, id string) (bool, error) { return f(ctx, id) }

func TestLookupTreatsMissingArtifactAsAbsent(t *testing.T) {
	checker := checkerFunc(func(ctx context.Context, id string) (bool, error) { return false, nil })
	c := cache.NewMemoryCache(cache.WithArtifactChecker(checker))

	key := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "abc"}
	require.NoError(t, c.Insert(context.Background(), key, cache.Entry{ArtifactIDs: []string{"purged"}}, 0))

	_, hit, err := c.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, hit, "an entry whose artifact was purged must be treated as absent")
}

func TestSingleFlightDeduplicatesConcurrentProducers(t *testing.T) {
	c := cache.NewMemoryCache()
	key := cache.Key{TenantID: "t1", SkillID: "generate_intro_image", SkillVersion: "1.0.0", Fingerprint: "same-input"}

	var produceCalls int64
	const callers = 20

	results := make(chan cache.Entry, callers)
	errs := make(chan error, callers)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		go func() {
			<-start
			entry, _, err := c.SingleFlight(context.Background(), key, 0, func() (cache.Entry, error) {
				atomic.AddInt64(&produceCalls, 1)
				time.Sleep(10 * time.Millisecond)
				return cache.Entry{ArtifactIDs: []string{"produced-once"}}, nil
			})
			if err != nil {
				errs <- err
				return
			}
			results <- entry
		}()
	}
	close(start)

	for i := 0; i < callers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case entry := <-results:
			assert.Equal(t, []string{"produced-once"}, entry.ArtifactIDs)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for single-flight callers")
		}
	}

	assert.Equal(t, int64(1), atomic.LoadInt64(&produceCalls), "at most one producer runs concurrently for a given key")
}

func TestSingleFlightPropagatesProducerError(t *testing.T) {
	c := cache.NewMemoryCache()
	key := cache.Key{TenantID: "t1", SkillID: "s", SkillVersion: "1.0.0", Fingerprint: "abc"}

	wantErr := errors.New("provider refused")
	_, _, err := c.SingleFlight(context.Background(), key, 0, func() (cache.Entry, error) {
		return cache.Entry{}, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

// TestSingleFlightExactlyOnceProperty verifies invariant 2 from the
// testable properties: for any pair of steps sharing a
// (tenant, skill_id, skill_version, input_fingerprint), at most one is
// running at any instant — modeled here as at most one producer
// invocation per key under concurrent single-flight callers.
func TestSingleFlightExactlyOnceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent single-flight callers for one key invoke the producer exactly once", prop.ForAll(
		func(tenantID, fingerprint string, concurrency int) bool {
			if concurrency < 1 {
				concurrency = 1
			}
			if concurrency > 50 {
				concurrency = 50
			}
			c := cache.NewMemoryCache()
			key := cache.Key{TenantID: tenantID, SkillID: "s", SkillVersion: "1.0.0", Fingerprint: fingerprint}

			var calls int64
			done := make(chan struct{}, concurrency)
			for i := 0; i < concurrency; i++ {
				go func() {
					_, _, _ = c.SingleFlight(context.Background(), key, 0, func() (cache.Entry, error) {
						atomic.AddInt64(&calls, 1)
						time.Sleep(time.Millisecond)
						return cache.Entry{}, nil
					})
					done <- struct{}{}
				}()
			}
			for i := 0; i < concurrency; i++ {
				<-done
			}
			return atomic.LoadInt64(&calls) == 1
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
