package core

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"argus/metrics"
	"argus/util/goroutine"

	"go.uber.org/zap"
)

var poolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// stopTimeout bounds how long Stop waits for in-flight tasks
const stopTimeout = 30 * time.Second

// WorkerPool runs submitted tasks on a fixed set of goroutines.
// It backs the asynchronous fan-out of processed events to subscribers.
type WorkerPool struct {
	workers   int
	queueSize int
	taskCh    chan func()
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mu        sync.RWMutex
	poolType  string // metrics label
}

// NewWorkerPool creates a worker pool bound to parentCtx. Workers are not started until Start.
// Cancelling parentCtx stops the workers; Stop additionally waits for them.
func NewWorkerPool(parentCtx context.Context, workers, queueSize int, poolType string, logger *zap.SugaredLogger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if poolType == "" || !poolNamePattern.MatchString(poolType) {
		logger.Warnw("Invalid poolType, using default", "poolType", poolType)
		poolType = "default"
	}

	ctx, cancel := context.WithCancel(parentCtx)
	return &WorkerPool{
		workers:   workers,
		queueSize: queueSize,
		taskCh:    make(chan func(), queueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		poolType:  poolType,
	}
}

// Start begins processing tasks with the worker pool
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return nil
	}
	if wp.ctx.Err() != nil {
		return ErrWorkerPoolNotRunning
	}

	wp.running = true
	wp.logger.Infof("Starting worker pool %s with %d workers and queue size %d", wp.poolType, wp.workers, wp.queueSize)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop gracefully shuts down the worker pool. Safe to call more than once.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if !wp.running {
		return
	}
	wp.running = false
	wp.logger.Infow("Stopping worker pool", "pool_type", wp.poolType, "workers", wp.workers)

	// closing first lets workers drain queued tasks before they see cancellation
	close(wp.taskCh)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped successfully", "pool_type", wp.poolType)
	case <-time.After(stopTimeout):
		wp.logger.Errorw("Worker pool shutdown timed out - goroutines leaked",
			"pool_type", wp.poolType,
			"workers", wp.workers,
			"timeout_seconds", int(stopTimeout.Seconds()))
	}
	wp.cancel()
}

// Submit adds a task to the queue without blocking
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return ErrWorkerPoolNotRunning
	}

	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrWorkerPoolQueueFull
	}
}

// GetStats returns current worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:     wp.workers,
		QueueSize:   wp.queueSize,
		Running:     wp.running,
		QueuedTasks: len(wp.taskCh),
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool-"+wp.poolType, wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			wp.run(id, task)
		}
	}
}

func (wp *WorkerPool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorw("Task panicked in worker",
				"pool_type", wp.poolType,
				"worker_id", id,
				"panic", r)
		}
	}()
	task()
	metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.poolType).Inc()
	metrics.WorkerPoolQueueSize.WithLabelValues(wp.poolType).Set(float64(len(wp.taskCh)))
}

// WorkerPoolStats contains statistics about the worker pool
type WorkerPoolStats struct {
	Workers     int  `json:"workers"`
	QueueSize   int  `json:"queue_size"`
	Running     bool `json:"running"`
	QueuedTasks int  `json:"queued_tasks"`
}

// Errors
var (
	ErrWorkerPoolNotRunning = errors.New("worker pool is not running")
	ErrWorkerPoolQueueFull  = errors.New("worker pool task queue is full")
)
