package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPool_StartStop(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)

	require.NoError(t, wp.Start())

	stats := wp.GetStats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.Workers)

	wp.Stop()
	wp.Stop()

	assert.False(t, wp.GetStats().Running)
}

func TestWorkerPool_SubmitTasks(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 2, 10, "test", logger)
	require.NoError(t, wp.Start())
	defer wp.Stop()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int64(5), atomic.LoadInt64(&counter))
}

func TestWorkerPool_SubmitBeforeStart(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 1, "test", logger)

	assert.ErrorIs(t, wp.Submit(func() {}), ErrWorkerPoolNotRunning)
}

func TestWorkerPool_QueueFull(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 1, "test", logger)
	require.NoError(t, wp.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, wp.Submit(func() {}), "one slot in the queue")

	assert.ErrorIs(t, wp.Submit(func() {}), ErrWorkerPoolQueueFull)

	close(release)
	wp.Stop()
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 4, "test", logger)
	require.NoError(t, wp.Start())
	defer wp.Stop()

	done := make(chan struct{})
	require.NoError(t, wp.Submit(func() { panic("boom") }))
	require.NoError(t, wp.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestWorkerPool_StopDrainsQueue(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 10, "test", logger)
	require.NoError(t, wp.Start())

	var counter int64
	for i := 0; i < 10; i++ {
		require.NoError(t, wp.Submit(func() { atomic.AddInt64(&counter, 1) }))
	}
	wp.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&counter))
}

func TestWorkerPool_InvalidPoolTypeFallsBack(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	wp := NewWorkerPool(context.Background(), 1, 1, "bad name!", logger)
	assert.Equal(t, "default", wp.poolType)
}
