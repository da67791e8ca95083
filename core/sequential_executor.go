package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// sequentialBatchSize is how many tasks the drain loop takes from the queue at once.
const sequentialBatchSize = 32

// sequentialExecutor binds a dedicated goroutine to one Sequential scheduler.
// Tasks run strictly in submission order and never overlap.
//
// Submission never blocks: the queue is unbounded, the scheduler's counter is what bounds it.
type sequentialExecutor struct {
	name  string
	queue TaskQueue

	// Wake-up hint for the drain loop; the queue is the source of truth
	signal chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
	postMu  sync.Mutex // orders post against stop, so nothing is queued after the final drain
	closed  atomic.Bool

	activeRunners int32 // atomic guard for concurrency assertion
}

func newSequentialExecutor(name string) *sequentialExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &sequentialExecutor{
		name:    name,
		queue:   NewFIFOTaskQueue(),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go e.runLoop()
	return e
}

// post appends a task. It returns false after stop.
func (e *sequentialExecutor) post(task Task) bool {
	e.postMu.Lock()
	if e.closed.Load() {
		e.postMu.Unlock()
		return false
	}
	e.queue.Push(task)
	e.postMu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return true
}

func (e *sequentialExecutor) queued() int {
	return e.queue.Len()
}

// stop terminates the drain loop after the current task. Queued tasks are dropped without
// running their work, but each still releases its counters and flush epoch.
func (e *sequentialExecutor) stop() {
	e.once.Do(func() {
		e.postMu.Lock()
		e.closed.Store(true)
		e.postMu.Unlock()
		e.cancel()
		<-e.stopped

		for {
			batch := e.queue.PopUpTo(sequentialBatchSize)
			if len(batch) == 0 {
				break
			}
			e.discard(batch)
		}
		e.queue.Clear()
	})
}

// discard hands tasks a context that tells their wrapper to release without running.
func (e *sequentialExecutor) discard(tasks []Task) {
	ctx := withDiscard(e.ctx)
	for _, task := range tasks {
		task(ctx)
	}
}

func (e *sequentialExecutor) runLoop() {
	defer close(e.stopped)

	for {
		for {
			batch := e.queue.PopUpTo(sequentialBatchSize)
			if len(batch) == 0 {
				break
			}
			for i, task := range batch {
				e.run(task)
				if e.ctx.Err() != nil {
					e.discard(batch[i+1:])
					return
				}
			}
		}
		e.queue.MaybeCompact()

		select {
		case <-e.signal:
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *sequentialExecutor) run(task Task) {
	// Assertion: Ensure strictly one task at a time
	if n := atomic.AddInt32(&e.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("sequential scheduler %s: overlapping execution detected (count=%d)", e.name, n))
	}
	defer atomic.AddInt32(&e.activeRunners, -1)

	// Task wrappers installed by TaskScheduler recover their own panics
	task(e.ctx)
}
