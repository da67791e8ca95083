package core

import (
	"fmt"
	"sync/atomic"
	"time"
)

// WorkSource is the FIFO ready queue shared by the workers of a GoroutineThreadPool.
type WorkSource struct {
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	metricQueued int32 // Waiting in ReadyQueue
	metricActive int32 // Executing in Worker

	// Lifecycle
	shuttingDown int32 // atomic flag
}

func NewWorkSource(workerCount int) *WorkSource {
	return &WorkSource{
		queue:       NewFIFOTaskQueue(),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
	}
}

// Post queues a task for the workers. It returns false once the source is shutting down.
func (s *WorkSource) Post(task Task) bool {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		return false
	}

	s.queue.Push(task)
	atomic.AddInt32(&s.metricQueued, 1)

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
		// This is not an error, just a optimization hint
	}
	return true
}

// GetWork (Called by Worker)
func (s *WorkSource) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if task, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return task, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

func (s *WorkSource) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)

	// Clear queue to release all task references
	s.queue.Clear()
	atomic.StoreInt32(&s.metricQueued, 0)
}

// ShutdownGraceful waits for all queued and active tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (s *WorkSource) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			// Timeout exceeded, force clear remaining queues
			s.queue.Clear()
			atomic.StoreInt32(&s.metricQueued, 0)
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

// Metrics
func (s *WorkSource) WorkerCount() int     { return s.workerCount }
func (s *WorkSource) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *WorkSource) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }

func (s *WorkSource) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *WorkSource) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}
