package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// StreamName is the single Pulse stream the orchestrator publishes run
// trigger events to and consumes them from (§6.5).
const StreamName = "run-orchestration"

const eventRunQueued = "run_queued"

// Message is the ingress payload: the orchestrator's per-run loop (§4.I)
// only needs enough to load the run and scope subsequent work to a tenant.
type Message struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
}

// Options configures a Queue.
type Options struct {
	// Client publishes/consumes the run-orchestration stream. Required.
	Client Client
	// Deduper prevents the same run from being queued twice while already
	// in-flight. Defaults to an in-memory Deduper if nil.
	Deduper Deduper
	// SinkName identifies the Pulse consumer group. Defaults to
	// "orchestrator".
	SinkName string
}

// Queue publishes run-trigger messages and lets consumers subscribe to them.
type Queue struct {
	client  Client
	dedup   Deduper
	sinkNam string
}

// New constructs a Queue. opts.Client is required.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("queue: client is required")
	}
	dedup := opts.Deduper
	if dedup == nil {
		dedup = NewInMemoryDeduper()
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = "orchestrator"
	}
	return &Queue{client: opts.Client, dedup: dedup, sinkNam: sinkName}, nil
}

// Enqueue publishes msg to the run-orchestration stream unless a message for
// the same run is already in flight, per the "run-<runId>" dedup key (§6.5).
// Returns (false, nil) when the run was already queued.
func (q *Queue) Enqueue(ctx context.Context, msg Message) (bool, error) {
	if msg.RunID == "" || msg.TenantID == "" {
		return false, errors.New("queue: run_id and tenant_id are required")
	}
	acquired, err := q.dedup.TryAcquire(ctx, RunDedupKey(msg.RunID), 0)
	if err != nil {
		return false, fmt.Errorf("queue: dedup acquire: %w", err)
	}
	if !acquired {
		return false, nil
	}

	str, err := q.client.Stream(StreamName)
	if err != nil {
		return false, fmt.Errorf("queue: open stream: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("queue: marshal message: %w", err)
	}
	if _, err := str.Add(ctx, eventRunQueued, payload); err != nil {
		return false, fmt.Errorf("queue: publish: %w", err)
	}
	return true, nil
}

// Complete releases the run's dedup key after it reaches a terminal state.
// removeOnComplete=true in the spec means a successfully completed run's key
// is released immediately so it can be re-triggered (e.g. a manual re-run);
// a failed run's key is intentionally left held (removeOnFail=false) so an
// automatic re-publish can't race an operator-triggered retry.
func (q *Queue) Complete(ctx context.Context, runID string, succeeded bool) error {
	if succeeded {
		return q.dedup.Release(ctx, RunDedupKey(runID))
	}
	return nil
}

// Handler processes one dequeued message. Returning an error leaves the
// message unacked so Pulse's consumer group redelivers it.
type Handler func(ctx context.Context, msg Message) error

// Subscribe opens a sink on the run-orchestration stream and dispatches each
// decoded message to handle, acking only after handle returns nil. The
// returned cancel function stops consumption and closes the sink.
func (q *Queue) Subscribe(ctx context.Context, handle Handler) (context.CancelFunc, error) {
	str, err := q.client.Stream(StreamName)
	if err != nil {
		return nil, fmt.Errorf("queue: open stream: %w", err)
	}
	sink, err := str.NewSink(ctx, q.sinkNam)
	if err != nil {
		return nil, fmt.Errorf("queue: new sink: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go q.consume(runCtx, sink, handle)
	return func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (q *Queue) consume(ctx context.Context, sink Sink, handle Handler) {
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal(evt.Payload, &msg); err != nil {
				continue
			}
			if err := handle(ctx, msg); err != nil {
				continue
			}
			_ = sink.Ack(ctx, evt)
		}
	}
}
