package bootstrap

import (
	"context"
	"sync"
	"testing"
	"time"

	"argus/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type orderedSubscriber struct {
	mu    sync.Mutex
	calls []string
	ctxOK []bool
	block chan struct{}
}

func (s *orderedSubscriber) OnIncidentCreated(ctx context.Context, incident core.SecurityIncident) {
	s.record(ctx, "incident:"+incident.ID)
}

func (s *orderedSubscriber) OnProcessedEvent(ctx context.Context, event core.SecurityEvent) {
	if s.block != nil {
		<-s.block
	}
	s.record(ctx, "event:"+event.ID)
}

func (s *orderedSubscriber) record(ctx context.Context, call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	s.ctxOK = append(s.ctxOK, ctx.Err() == nil)
}

func (s *orderedSubscriber) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestEventBus_DeliversIncidentBeforeEvent(t *testing.T) {
	sub := &orderedSubscriber{}
	bus := NewEventBus(context.Background(), 2, 16, sub, zaptest.NewLogger(t).Sugar())
	require.NoError(t, bus.Start())

	// A cancelled request context must not cancel the delivery
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, core.SecurityEvent{ID: "e1"}, &core.SecurityIncident{ID: "i1"})
	bus.Stop()

	assert.Equal(t, []string{"incident:i1", "event:e1"}, sub.snapshot())
	assert.Equal(t, []bool{true, true}, sub.ctxOK)
}

func TestEventBus_InlineWhenNotRunning(t *testing.T) {
	sub := &orderedSubscriber{}
	bus := NewEventBus(context.Background(), 1, 1, sub, zaptest.NewLogger(t).Sugar())

	bus.Publish(context.Background(), core.SecurityEvent{ID: "e1"}, nil)
	assert.Equal(t, []string{"event:e1"}, sub.snapshot(), "delivered synchronously")
}

func TestEventBus_InlineWhenQueueFull(t *testing.T) {
	sub := &orderedSubscriber{block: make(chan struct{})}
	bus := NewEventBus(context.Background(), 1, 1, sub, zaptest.NewLogger(t).Sugar())
	require.NoError(t, bus.Start())

	// e1 occupies the worker, e2 fills the queue
	bus.Publish(context.Background(), core.SecurityEvent{ID: "e1"}, nil)
	require.Eventually(t, func() bool { return bus.Stats().QueuedTasks == 0 }, time.Second, time.Millisecond)
	bus.Publish(context.Background(), core.SecurityEvent{ID: "e2"}, nil)

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), core.SecurityEvent{ID: "e3"}, nil)
		close(done)
	}()

	// e3 runs inline on the publisher goroutine and blocks in the subscriber too
	close(sub.block)
	<-done
	bus.Stop()

	assert.ElementsMatch(t, []string{"event:e1", "event:e2", "event:e3"}, sub.snapshot())
}
