package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineThreadPool_Lifecycle(t *testing.T) {
	pool := NewGoroutineThreadPool("test-pool", 2)

	assert.Equal(t, "test-pool", pool.ID())
	assert.False(t, pool.IsRunning(), "pool should not be running initially")

	pool.Start(context.Background())
	assert.True(t, pool.IsRunning())
	assert.Equal(t, 2, pool.WorkerCount())

	pool.Stop()
	assert.False(t, pool.IsRunning())
	assert.False(t, pool.PostInternal(func(ctx context.Context) {}), "post after Stop")
}

func TestGoroutineThreadPool_TaskExecution(t *testing.T) {
	pool := NewGoroutineThreadPool("exec-pool", 4)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	var wg sync.WaitGroup
	const taskCount = 10
	wg.Add(taskCount)

	for range taskCount {
		require.True(t, pool.PostInternal(func(ctx context.Context) {
			defer wg.Done()
			counter.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(taskCount), counter.Load())
}

// TestGoroutineThreadPool_Metrics verifies queued and active counts
// Given: A single worker pool whose worker is blocked
// When: Two more tasks are posted
// Then: One task is active, two are queued, and both counts drain to zero afterwards
func TestGoroutineThreadPool_Metrics(t *testing.T) {
	pool := NewGoroutineThreadPool("metrics-pool", 1)
	pool.Start(context.Background())
	defer pool.Stop()

	blockCh := make(chan struct{})
	pool.PostInternal(func(ctx context.Context) { <-blockCh })
	require.Eventually(t, func() bool { return pool.ActiveTaskCount() == 1 }, testTimeout, testTick)

	pool.PostInternal(func(ctx context.Context) {})
	pool.PostInternal(func(ctx context.Context) {})
	assert.Equal(t, 2, pool.QueuedTaskCount())

	stats := pool.Stats()
	assert.Equal(t, PoolStats{ID: "metrics-pool", Workers: 1, Queued: 2, Active: 1, Running: true}, stats)

	close(blockCh)
	assert.Eventually(t, func() bool {
		return pool.ActiveTaskCount() == 0 && pool.QueuedTaskCount() == 0
	}, testTimeout, testTick)
}

func TestGoroutineThreadPool_PanicDoesNotKillWorker(t *testing.T) {
	handler := NewTestPanicHandler()
	pool := NewGoroutineThreadPool("panic-pool", 1, WithPoolPanicHandler(handler))
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	pool.PostInternal(func(ctx context.Context) { panic("worker boom") })
	pool.PostInternal(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("worker died after panic")
	}
	require.Equal(t, 1, handler.CallCount())
	assert.Equal(t, "panic-pool/worker-0", handler.GetCalls()[0].SchedulerName)
}

// =============================================================================
// Graceful Shutdown Tests
// =============================================================================

func TestGoroutineThreadPool_StopGraceful_EmptyQueue(t *testing.T) {
	pool := NewGoroutineThreadPool("graceful-pool", 2)
	pool.Start(context.Background())

	require.NoError(t, pool.StopGraceful(time.Second))
	assert.False(t, pool.IsRunning())
}

func TestGoroutineThreadPool_StopGraceful_WithQueuedTasks(t *testing.T) {
	pool := NewGoroutineThreadPool("graceful-queued-pool", 2)
	pool.Start(context.Background())

	var executed atomic.Int32
	const taskCount = 5
	for range taskCount {
		pool.PostInternal(func(ctx context.Context) {
			time.Sleep(20 * time.Millisecond)
			executed.Add(1)
		})
	}

	require.NoError(t, pool.StopGraceful(time.Second))

	assert.Equal(t, int32(taskCount), executed.Load())
	assert.False(t, pool.IsRunning())
}

func TestGoroutineThreadPool_StopGraceful_Timeout(t *testing.T) {
	pool := NewGoroutineThreadPool("timeout-pool", 1)
	pool.Start(context.Background())

	// The task checks context and exits once the workers are cancelled
	pool.PostInternal(func(ctx context.Context) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
	})
	require.Eventually(t, func() bool { return pool.ActiveTaskCount() == 1 }, testTimeout, testTick)

	start := time.Now()
	err := pool.StopGraceful(50 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, 300*time.Millisecond, "context cancellation should interrupt the task")
	assert.False(t, pool.IsRunning())
}

func TestWorkSource_GetWorkStops(t *testing.T) {
	s := NewWorkSource(1)
	stopCh := make(chan struct{})
	close(stopCh)

	task, ok := s.GetWork(stopCh)

	assert.Nil(t, task)
	assert.False(t, ok)

	s.Post(func(ctx context.Context) {})
	_, ok = s.GetWork(stopCh)
	assert.True(t, ok, "queued work is returned before the stop signal")
	assert.Zero(t, s.QueuedTaskCount())
}
