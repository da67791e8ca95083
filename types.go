package wiring

import "github.com/Swind/go-wiring/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the wiring package for most use cases.

// Task is the unit of work executed by schedulers and the thread pool
type Task = core.Task

// Model owns the schedulers, wires and thread pool of one pipeline
type Model = core.Model

// Scheduler is the type-erased view of a TaskScheduler
type Scheduler = core.Scheduler

// TaskScheduler runs handlers that produce Out and forwards results on its output wire
type TaskScheduler[Out any] = core.TaskScheduler[Out]

// InputWire feeds In items into a scheduler
type InputWire[In, Out any] = core.InputWire[In, Out]

// OutputWire fans results out to soldered receivers
type OutputWire[T any] = core.OutputWire[T]

// Handler transforms one input into an optional output
type Handler[In, Out any] = core.Handler[In, Out]

// ObjectCounter tracks items in flight for backpressure
type ObjectCounter = core.ObjectCounter

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

type (
	SchedulerType          = core.SchedulerType
	SchedulerOption        = core.SchedulerOption
	SchedulerConfiguration = core.SchedulerConfiguration
	SolderType             = core.SolderType
	PipelineConfig         = core.PipelineConfig
	HealthMonitor          = core.HealthMonitor
	NoOutput               = core.NoOutput
)

const (
	SchedulerTypeSequential = core.SchedulerTypeSequential
	SchedulerTypeConcurrent = core.SchedulerTypeConcurrent
	SchedulerTypeDirect     = core.SchedulerTypeDirect

	UnlimitedCapacity = core.UnlimitedCapacity
)

// Scheduler options
var (
	WithType          = core.WithType
	WithCapacity      = core.WithCapacity
	WithOnRamp        = core.WithOnRamp
	WithOffRamp       = core.WithOffRamp
	WithFlushing      = core.WithFlushing
	WithConfiguration = core.WithConfiguration
	WithSolderType    = core.WithSolderType
)

// NewModel creates an empty model running Concurrent schedulers on pool.
func NewModel(pool ThreadPool, opts ...core.ModelOption) *Model {
	return core.NewModel(pool, opts...)
}

// NewBackpressureCounter creates a counter that blocks producers once capacity items are in flight.
func NewBackpressureCounter(name string, capacity int64) *core.BackpressureCounter {
	return core.NewBackpressureCounter(name, capacity)
}

// NewGoroutineThreadPool creates a pool with the given number of workers.
func NewGoroutineThreadPool(id string, workers int) *core.GoroutineThreadPool {
	return core.NewGoroutineThreadPool(id, workers)
}

// BuildScheduler creates a scheduler in m; see core.BuildScheduler.
func BuildScheduler[Out any](m *Model, name string, opts ...SchedulerOption) (*TaskScheduler[Out], error) {
	return core.BuildScheduler[Out](m, name, opts...)
}

// BuildInputWire creates a labelled input on s.
func BuildInputWire[In, Out any](s *TaskScheduler[Out], label string) *InputWire[In, Out] {
	return core.BuildInputWire[In, Out](s, label)
}

// CurrentScheduler retrieves the scheduler running the current task from context
var CurrentScheduler = core.CurrentScheduler

// Transform derives a wire carrying fn applied to every item of w.
func Transform[T, U any](w *OutputWire[T], name string, fn func(T) U) *OutputWire[U] {
	return core.Transform(w, name, fn)
}

// Filter derives a wire carrying only the items of w for which keep returns true.
func Filter[T any](w *OutputWire[T], name string, keep func(T) bool) *OutputWire[T] {
	return core.Filter(w, name, keep)
}

// Split derives a wire carrying the elements of every slice on w.
func Split[T any](w *OutputWire[[]T], name string) *OutputWire[T] {
	return core.Split(w, name)
}
