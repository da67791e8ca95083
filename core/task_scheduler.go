package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Scheduler is the type-erased view of a TaskScheduler used by the model, the health monitor
// and the observability layer.
type Scheduler interface {
	Name() string
	Type() SchedulerType

	// Capacity returns the bound on unprocessed tasks, or UnlimitedCapacity.
	Capacity() int64

	// UnprocessedTaskCount returns the number of tasks admitted and not yet finished.
	UnprocessedTaskCount() int64

	Stats() SchedulerStats
	RecentTasks(limit int) []TaskExecutionRecord

	// Flush blocks until every task submitted before the call has completed.
	Flush(ctx context.Context) error

	// Submit admits a raw task, blocking on backpressure like an input wire Put.
	Submit(ctx context.Context, task Task) error

	stop()
}

// admission selects how a submission interacts with the scheduler's counter.
type admission int

const (
	admitPut admission = iota
	admitOffer
	admitInject
)

// =============================================================================
// Scheduler options
// =============================================================================

type schedulerSettings struct {
	typ          SchedulerType
	capacity     int64
	onRamp       ObjectCounter
	offRamp      ObjectCounter
	flushable    bool
	panicHandler PanicHandler
	historySize  int
}

func defaultSchedulerSettings() schedulerSettings {
	return schedulerSettings{
		typ:      SchedulerTypeSequential,
		capacity: UnlimitedCapacity,
	}
}

// SchedulerOption configures a scheduler built by BuildScheduler.
type SchedulerOption func(*schedulerSettings)

// WithType sets the execution discipline. The default is Sequential.
func WithType(t SchedulerType) SchedulerOption {
	return func(s *schedulerSettings) { s.typ = t }
}

// WithCapacity bounds the number of unprocessed tasks. The default is UnlimitedCapacity.
func WithCapacity(capacity int64) SchedulerOption {
	return func(s *schedulerSettings) { s.capacity = capacity }
}

// WithOnRamp adds an external counter reserved when a task is admitted, in addition to the
// scheduler's own. This is how a scheduler joins a backpressure domain.
func WithOnRamp(c ObjectCounter) SchedulerOption {
	return func(s *schedulerSettings) { s.onRamp = c }
}

// WithOffRamp adds an external counter released after a task and its forwarding finished.
func WithOffRamp(c ObjectCounter) SchedulerOption {
	return func(s *schedulerSettings) { s.offRamp = c }
}

// WithFlushing enables Flush.
func WithFlushing() SchedulerOption {
	return func(s *schedulerSettings) { s.flushable = true }
}

// WithPanicHandler overrides the model's default panic handler for this scheduler.
func WithPanicHandler(h PanicHandler) SchedulerOption {
	return func(s *schedulerSettings) { s.panicHandler = h }
}

// WithTaskHistory keeps the last n task executions for RecentTasks.
func WithTaskHistory(n int) SchedulerOption {
	return func(s *schedulerSettings) { s.historySize = n }
}

// WithConfiguration applies a parsed SchedulerConfiguration.
func WithConfiguration(cfg SchedulerConfiguration) SchedulerOption {
	return func(s *schedulerSettings) {
		s.typ = cfg.Type
		s.capacity = cfg.Capacity
		s.flushable = cfg.Flushable
	}
}

func (s schedulerSettings) validate(name string, pool ThreadPool) error {
	switch s.typ {
	case SchedulerTypeSequential, SchedulerTypeConcurrent, SchedulerTypeDirect:
	default:
		return fmt.Errorf("scheduler %s: %w: unknown type %d", name, ErrInvalidConfiguration, int(s.typ))
	}
	if s.capacity != UnlimitedCapacity && s.capacity <= 0 {
		return fmt.Errorf("scheduler %s: %w: %d", name, ErrInvalidCapacity, s.capacity)
	}
	if s.typ == SchedulerTypeDirect && s.capacity != UnlimitedCapacity {
		return fmt.Errorf("scheduler %s: %w: direct schedulers cannot be bounded", name, ErrInvalidConfiguration)
	}
	if s.typ == SchedulerTypeConcurrent && pool == nil {
		return fmt.Errorf("scheduler %s: %w: concurrent scheduler requires a thread pool", name, ErrInvalidConfiguration)
	}
	return nil
}

// =============================================================================
// TaskScheduler
// =============================================================================

// TaskScheduler is a named execution stage. Input wires submit work to it; whatever the bound
// handlers produce is forwarded to its OutputWire before the task is considered finished.
type TaskScheduler[Out any] struct {
	model *Model
	name  string
	typ   SchedulerType

	capacity int64
	own      ObjectCounter // unprocessed tasks of this scheduler
	onRamp   ObjectCounter // own plus the external on-ramp, if any
	offRamp  ObjectCounter // own plus the external off-ramp, if any

	extOnRamp, extOffRamp ObjectCounter // nil when not configured

	executor     *sequentialExecutor // Sequential only
	pool         ThreadPool          // Concurrent only
	panicHandler PanicHandler
	metrics      Metrics
	logger       logr.Logger
	history      *executionHistory
	flush        *flushTracker

	output *OutputWire[Out]

	taskSeq    atomic.Uint64
	rejected   atomic.Int64
	lastTaskAt atomic.Int64 // unix nanos
	closed     atomic.Bool
}

var _ Scheduler = (*TaskScheduler[int])(nil)

func newTaskScheduler[Out any](m *Model, name string, cfg schedulerSettings) *TaskScheduler[Out] {
	s := &TaskScheduler[Out]{
		model:        m,
		name:         name,
		typ:          cfg.typ,
		capacity:     cfg.capacity,
		panicHandler: cfg.panicHandler,
		metrics:      m.metrics,
		logger:       m.logger.WithName("scheduler").WithValues("scheduler", name, "type", cfg.typ.String()),
	}
	if s.panicHandler == nil {
		s.panicHandler = m.panicHandler
	}

	if cfg.capacity == UnlimitedCapacity {
		s.own = NewStandardCounter(name)
	} else {
		s.own = NewBackpressureCounter(name, cfg.capacity, WithCounterLogger(m.logger))
	}
	s.onRamp, s.offRamp = s.own, s.own
	s.extOnRamp, s.extOffRamp = cfg.onRamp, cfg.offRamp
	if cfg.onRamp != nil {
		s.onRamp = NewMultiCounter(s.own, cfg.onRamp)
	}
	if cfg.offRamp != nil {
		s.offRamp = NewMultiCounter(s.own, cfg.offRamp)
	}

	if cfg.flushable {
		s.flush = newFlushTracker()
	}
	if cfg.historySize > 0 {
		s.history = newExecutionHistory(cfg.historySize)
	}

	switch cfg.typ {
	case SchedulerTypeSequential:
		s.executor = newSequentialExecutor(name)
	case SchedulerTypeConcurrent:
		s.pool = m.pool
	case SchedulerTypeDirect:
	}

	s.output = newOutputWire[Out](m, name)
	return s
}

func (s *TaskScheduler[Out]) Name() string        { return s.name }
func (s *TaskScheduler[Out]) Type() SchedulerType { return s.typ }
func (s *TaskScheduler[Out]) Capacity() int64     { return s.capacity }

func (s *TaskScheduler[Out]) UnprocessedTaskCount() int64 {
	return s.own.Count()
}

// OutputWire returns the wire carrying this scheduler's handler results.
func (s *TaskScheduler[Out]) OutputWire() *OutputWire[Out] {
	return s.output
}

func (s *TaskScheduler[Out]) Stats() SchedulerStats {
	stats := SchedulerStats{
		Name:        s.name,
		Type:        s.typ,
		Capacity:    s.capacity,
		Unprocessed: s.UnprocessedTaskCount(),
		Rejected:    s.rejected.Load(),
		Closed:      s.closed.Load(),
	}
	if s.executor != nil {
		stats.Queued = s.executor.queued()
	}
	if ns := s.lastTaskAt.Load(); ns != 0 {
		stats.LastTaskAt = time.Unix(0, ns)
	}
	return stats
}

// RecentTasks returns up to limit executions, newest first. It is empty unless the scheduler
// was built WithTaskHistory.
func (s *TaskScheduler[Out]) RecentTasks(limit int) []TaskExecutionRecord {
	if s.history == nil {
		return nil
	}
	return s.history.Recent(limit)
}

func (s *TaskScheduler[Out]) Flush(ctx context.Context) error {
	if s.flush == nil {
		return fmt.Errorf("scheduler %s: %w", s.name, ErrFlushUnsupported)
	}
	return s.flush.wait(ctx)
}

func (s *TaskScheduler[Out]) Submit(ctx context.Context, task Task) error {
	_, err := s.submit(ctx, admitPut, task)
	return err
}

// submit runs the admission protocol and hands the wrapped task to dispatch.
// It reports false with a nil error when an offer was refused.
func (s *TaskScheduler[Out]) submit(ctx context.Context, mode admission, work Task) (bool, error) {
	if s.closed.Load() {
		s.reject(RejectReasonClosed)
		return false, fmt.Errorf("scheduler %s: %w", s.name, ErrSchedulerClosed)
	}
	if s.model.stopped.Load() && CurrentScheduler(ctx) == nil {
		s.reject(RejectReasonClosed)
		return false, fmt.Errorf("scheduler %s: %w", s.name, ErrModelStopped)
	}

	switch mode {
	case admitPut:
		start := time.Now()
		if err := s.onRamp.OnRamp(ctx, 1); err != nil {
			s.reject(RejectReasonCancelled)
			return false, fmt.Errorf("scheduler %s: admission aborted: %w", s.name, err)
		}
		s.metrics.RecordAdmissionWait(s.name, time.Since(start))
	case admitOffer:
		if !s.onRamp.AttemptOnRamp(1) {
			s.reject(RejectReasonFull)
			return false, nil
		}
	case admitInject:
		s.onRamp.ForceOnRamp(1)
	}

	var epoch *sync.WaitGroup
	if s.flush != nil {
		epoch = s.flush.enter()
	}

	if err := s.dispatch(ctx, s.wrap(work, epoch)); err != nil {
		// Never entered, so undo exactly what was reserved
		s.onRamp.OffRamp(1)
		if epoch != nil {
			epoch.Done()
		}
		s.reject(RejectReasonClosed)
		return false, err
	}
	return true, nil
}

// dispatch is the only place that switches on the scheduler type.
func (s *TaskScheduler[Out]) dispatch(ctx context.Context, task Task) error {
	switch s.typ {
	case SchedulerTypeSequential:
		if !s.executor.post(task) {
			return fmt.Errorf("scheduler %s: %w", s.name, ErrSchedulerClosed)
		}
	case SchedulerTypeConcurrent:
		if !s.pool.PostInternal(task) {
			return fmt.Errorf("scheduler %s: %w: thread pool %s stopped", s.name, ErrSchedulerClosed, s.pool.ID())
		}
	case SchedulerTypeDirect:
		task(ctx)
	default:
		panic(fmt.Sprintf("scheduler %s: unknown type %d", s.name, int(s.typ)))
	}
	return nil
}

// wrap returns the task as it is executed: with the scheduler installed in its context, panics
// recovered, and the off-ramp performed after the handler and its forwarding returned. The
// off-ramp runs on every exit path, including panics raised by the panic handler or metrics.
func (s *TaskScheduler[Out]) wrap(work Task, epoch *sync.WaitGroup) Task {
	return func(ctx context.Context) {
		if epoch != nil {
			defer epoch.Done()
		}
		if isDiscarded(ctx) {
			defer s.releaseDropped()
			s.safely("reject", func() { s.reject(RejectReasonClosed) })
			return
		}
		defer s.offRamp.OffRamp(1)

		id := s.taskSeq.Add(1)
		start := time.Now()
		panicked := false

		defer func() {
			if r := recover(); r != nil {
				panicked = true
				stack := debug.Stack()
				s.safely("metrics", func() { s.metrics.RecordTaskPanic(s.name, r) })
				s.safely("panic handler", func() { s.panicHandler.HandlePanic(ctx, s.name, r, stack) })
			}

			finished := time.Now()
			s.safely("metrics", func() { s.metrics.RecordTaskDuration(s.name, finished.Sub(start)) })
			s.lastTaskAt.Store(finished.UnixNano())
			if s.history != nil {
				s.history.Add(TaskExecutionRecord{
					TaskID:        id,
					SchedulerName: s.name,
					SchedulerType: s.typ,
					StartedAt:     start,
					FinishedAt:    finished,
					Duration:      finished.Sub(start),
					Panicked:      panicked,
				})
			}
		}()

		work(withCurrentScheduler(ctx, s))
	}
}

// releaseDropped releases what a task dropped at teardown still holds: its own unit, the
// external on-ramp it reserved, and the external off-ramp it will never reach. A counter used as
// both ramps is released once.
func (s *TaskScheduler[Out]) releaseDropped() {
	s.own.OffRamp(1)
	if s.extOnRamp != nil {
		s.extOnRamp.OffRamp(1)
	}
	if s.extOffRamp != nil && s.extOffRamp != s.extOnRamp {
		s.extOffRamp.OffRamp(1)
	}
}

// safely runs a collaborator callback. Its panics are logged and go no further.
func (s *TaskScheduler[Out]) safely(hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("panic: %v", r), "Task hook failed", "hook", hook)
		}
	}()
	fn()
}

func (s *TaskScheduler[Out]) reject(reason string) {
	s.rejected.Add(1)
	s.metrics.RecordTaskRejected(s.name, reason)
}

func (s *TaskScheduler[Out]) stop() {
	s.closed.Store(true)
	if s.executor != nil {
		s.executor.stop()
	}
}

// =============================================================================
// Flush support
// =============================================================================

// flushTracker groups admitted tasks into epochs. Flush closes the current epoch and waits for
// its tasks and for every earlier epoch; tasks admitted afterwards belong to the next one.
type flushTracker struct {
	mu      sync.Mutex
	current *sync.WaitGroup
	settled chan struct{} // closed once every closed epoch has drained
}

func newFlushTracker() *flushTracker {
	settled := make(chan struct{})
	close(settled)
	return &flushTracker{current: &sync.WaitGroup{}, settled: settled}
}

func (f *flushTracker) enter() *sync.WaitGroup {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.Add(1)
	return f.current
}

func (f *flushTracker) wait(ctx context.Context) error {
	f.mu.Lock()
	epoch, previous := f.current, f.settled
	done := make(chan struct{})
	f.current, f.settled = &sync.WaitGroup{}, done
	f.mu.Unlock()

	go func() {
		epoch.Wait()
		<-previous
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
