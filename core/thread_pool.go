package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// ThreadPool executes the tasks of Concurrent schedulers. It is injected into the Model.
type ThreadPool interface {
	PostInternal(task Task) bool

	Start(ctx context.Context)
	Stop()
	StopGraceful(timeout time.Duration) error
	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int // In queue
	ActiveTaskCount() int // Executing
	Stats() PoolStats
}

// ThreadPoolOption configures a GoroutineThreadPool.
type ThreadPoolOption func(*GoroutineThreadPool)

// WithPoolLogger sets the logger used to report worker panics.
func WithPoolLogger(logger logr.Logger) ThreadPoolOption {
	return func(tg *GoroutineThreadPool) {
		tg.logger = logger
	}
}

// WithPoolPanicHandler replaces the default logging panic handler.
func WithPoolPanicHandler(h PanicHandler) ThreadPoolOption {
	return func(tg *GoroutineThreadPool) {
		tg.panicHandler = h
	}
}

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling tasks from WorkSource and executing them
type GoroutineThreadPool struct {
	id           string
	workers      int
	source       *WorkSource
	logger       logr.Logger
	panicHandler PanicHandler

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var _ ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a new GoroutineThreadPool. workers below 1 is treated as 1.
func NewGoroutineThreadPool(id string, workers int, opts ...ThreadPoolOption) *GoroutineThreadPool {
	if workers < 1 {
		workers = 1
	}
	tg := &GoroutineThreadPool{
		id:      id,
		workers: workers,
		source:  NewWorkSource(workers),
		logger:  logr.Discard(),
	}
	for _, opt := range opts {
		opt(tg)
	}
	tg.logger = tg.logger.WithName("thread-pool").WithValues("pool", id)
	if tg.panicHandler == nil {
		tg.panicHandler = &LoggingPanicHandler{Logger: tg.logger}
	}
	return tg
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return // Already running
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(tg.ctx, i)
	}
	tg.logger.V(1).Info("Thread pool started", "workers", tg.workers)
}

// Stop stops the thread pool. Queued tasks are dropped.
func (tg *GoroutineThreadPool) Stop() {
	// Always shutdown the source to release queued tasks
	// even if pool was never started
	tg.source.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful stops the thread pool gracefully, waiting for queued tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		tg.source.Shutdown()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.source.ShutdownGraceful(timeout)

	// Drained or timed out, the workers go either way
	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	if err != nil {
		return fmt.Errorf("thread pool %s: %w", tg.id, err)
	}
	return nil
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(ctx context.Context, id int) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.source.GetWork(stopCh)
		if !ok {
			// WorkSource closed or context canceled
			return
		}

		tg.source.OnTaskStart()
		tg.runTask(ctx, id, task)
	}
}

func (tg *GoroutineThreadPool) runTask(ctx context.Context, worker int, task Task) {
	defer func() {
		tg.source.OnTaskEnd()
		if r := recover(); r != nil {
			// Schedulers recover their own tasks; this only catches raw PostInternal callers.
			tg.panicHandler.HandlePanic(ctx, fmt.Sprintf("%s/worker-%d", tg.id, worker), r, debug.Stack())
		}
	}()
	task(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.source.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.source.ActiveTaskCount()
}

// PostInternal queues a task for the workers. It returns false after Stop.
func (tg *GoroutineThreadPool) PostInternal(task Task) bool {
	return tg.source.Post(task)
}

func (tg *GoroutineThreadPool) Stats() PoolStats {
	return PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Running: tg.IsRunning(),
	}
}
