package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// inmemClient is a process-local Client for tests and single-node
// deployments that don't run Redis. Every Stream call on the same name
// returns the same underlying channel-backed stream.
type inmemClient struct {
	mu      sync.Mutex
	streams map[string]*inmemStream
}

// NewInMemoryClient returns a Client backed by Go channels instead of Redis.
func NewInMemoryClient() Client {
	return &inmemClient{streams: make(map[string]*inmemStream)}
}

func (c *inmemClient) Stream(name string, _ ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("queue: stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.streams[name]; ok {
		return s, nil
	}
	s := &inmemStream{name: name}
	c.streams[name] = s
	return s, nil
}

func (c *inmemClient) Close(context.Context) error { return nil }

type inmemStream struct {
	name string
	mu   sync.Mutex
	next int
	sinks []*inmemSink
}

func (s *inmemStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	s.next++
	id := fmt.Sprintf("%d-0", s.next)
	sinks := append([]*inmemSink(nil), s.sinks...)
	s.mu.Unlock()

	evt := &streaming.Event{ID: id, EventName: event, Payload: payload}
	for _, sink := range sinks {
		sink.deliver(evt)
	}
	return id, nil
}

func (s *inmemStream) NewSink(_ context.Context, _ string, _ ...streamopts.Sink) (Sink, error) {
	sink := &inmemSink{ch: make(chan *streaming.Event, 64)}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
	return sink, nil
}

func (s *inmemStream) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.sinks {
		sink.closeOnce()
	}
	s.sinks = nil
	return nil
}

type inmemSink struct {
	mu     sync.Mutex
	ch     chan *streaming.Event
	closed bool
}

func (s *inmemSink) deliver(evt *streaming.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	case <-time.After(time.Second):
	}
}

func (s *inmemSink) Subscribe() <-chan *streaming.Event { return s.ch }

// Ack is a no-op: the in-memory sink has no pending-entries list to clear.
func (s *inmemSink) Ack(context.Context, *streaming.Event) error { return nil }

func (s *inmemSink) Close(context.Context) { s.closeOnce() }

func (s *inmemSink) closeOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
