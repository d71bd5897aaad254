package bootstrap

import (
	"context"

	"argus/core"
	"argus/detect"
	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

// EventBus hands processed events to a subscriber on a bounded worker pool so ingestion
// never waits on channel delivery. When the queue is full the delivery runs on the caller's
// goroutine instead of being dropped.
type EventBus struct {
	pool       *core.WorkerPool
	subscriber detect.Subscriber
	logger     *zap.SugaredLogger
}

// NewEventBus creates a bus bound to ctx. Call Start before publishing to get asynchronous delivery.
func NewEventBus(ctx context.Context, workers, queueSize int, subscriber detect.Subscriber, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		pool:       core.NewWorkerPool(ctx, workers, queueSize, "event-bus", logger),
		subscriber: subscriber,
		logger:     logger,
	}
}

// Start launches the bus workers
func (b *EventBus) Start() error {
	return b.pool.Start()
}

// Stop drains queued deliveries and stops the workers
func (b *EventBus) Stop() {
	b.pool.Stop()
}

// Publish implements detect.Publisher. The incident, when present, is delivered before the
// event within the same task so the pair keeps its order.
func (b *EventBus) Publish(ctx context.Context, event core.SecurityEvent, incident *core.SecurityIncident) {
	// deliveries outlive the request that produced them
	ctx = context.WithoutCancel(ctx)
	task := func() {
		defer goroutine.Recover("event-bus-delivery", b.logger)
		if incident != nil {
			b.subscriber.OnIncidentCreated(ctx, *incident)
		}
		b.subscriber.OnProcessedEvent(ctx, event)
	}

	if err := b.pool.Submit(task); err != nil {
		metrics.BusInlineDeliveries.Inc()
		b.logger.Debugw("Event bus unavailable, delivering inline", "event_id", event.ID, "reason", err)
		task()
	}
}

// Stats returns the worker pool statistics
func (b *EventBus) Stats() core.WorkerPoolStats {
	return b.pool.GetStats()
}
