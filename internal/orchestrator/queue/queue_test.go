package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignforge/engine/internal/orchestrator/queue"
)

func TestEnqueueThenSubscribeDeliversMessage(t *testing.T) {
	q, err := queue.New(queue.Options{Client: queue.NewInMemoryClient()})
	require.NoError(t, err)
	ctx := t.Context()

	var mu sync.Mutex
	var received []queue.Message
	done := make(chan struct{}, 1)

	cancel, err := q.Subscribe(ctx, func(_ context.Context, msg queue.Message) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	defer cancel()

	ok, err := q.Enqueue(ctx, queue.Message{RunID: "run-1", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "run-1", received[0].RunID)
	assert.Equal(t, "tenant-a", received[0].TenantID)
}

func TestEnqueueIsDeduplicatedWhileInFlight(t *testing.T) {
	q, err := queue.New(queue.Options{Client: queue.NewInMemoryClient()})
	require.NoError(t, err)
	ctx := t.Context()

	first, err := q.Enqueue(ctx, queue.Message{RunID: "run-2", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.True(t, first)

	second, err := q.Enqueue(ctx, queue.Message{RunID: "run-2", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.False(t, second)
}

func TestCompleteReleasesDedupOnlyOnSuccess(t *testing.T) {
	q, err := queue.New(queue.Options{Client: queue.NewInMemoryClient()})
	require.NoError(t, err)
	ctx := t.Context()

	_, err = q.Enqueue(ctx, queue.Message{RunID: "run-3", TenantID: "tenant-a"})
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, "run-3", false))
	reenqueued, err := q.Enqueue(ctx, queue.Message{RunID: "run-3", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.False(t, reenqueued, "dedup key must stay held after a failed run")

	require.NoError(t, q.Complete(ctx, "run-3", true))
	reenqueued, err = q.Enqueue(ctx, queue.Message{RunID: "run-3", TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.True(t, reenqueued, "dedup key must be released after a successful run")
}

func TestEnqueueRejectsMissingIdentifiers(t *testing.T) {
	q, err := queue.New(queue.Options{Client: queue.NewInMemoryClient()})
	require.NoError(t, err)
	_, err = q.Enqueue(t.Context(), queue.Message{RunID: "", TenantID: "tenant-a"})
	require.Error(t, err)
}
