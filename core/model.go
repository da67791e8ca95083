package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

const defaultStopPollInterval = 5 * time.Millisecond

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithLogger sets the logger shared by the model's schedulers and wires.
func WithLogger(logger logr.Logger) ModelOption {
	return func(m *Model) { m.logger = logger }
}

// WithMetrics sets the metrics sink for every scheduler of the model.
func WithMetrics(metrics Metrics) ModelOption {
	return func(m *Model) { m.metrics = metrics }
}

// WithDefaultPanicHandler sets the panic handler of schedulers built without WithPanicHandler.
func WithDefaultPanicHandler(h PanicHandler) ModelOption {
	return func(m *Model) { m.panicHandler = h }
}

// WithStopPollInterval sets how often Stop checks whether in-flight work has drained.
func WithStopPollInterval(d time.Duration) ModelOption {
	return func(m *Model) { m.stopPoll = d }
}

// vertexKind distinguishes the nodes of the wiring graph.
type vertexKind int

const (
	vertexScheduler vertexKind = iota
	vertexTransformer
	vertexFunc
)

type vertex struct {
	name      string
	kind      vertexKind
	scheduler Scheduler // vertexScheduler only
	inputs    []string
	bound     map[string]bool
}

type edge struct {
	from, to string
	label    string
	typ      SolderType
}

// Model owns the schedulers of one pipeline, the graph of solders between them, and the
// executor they share. Concurrent schedulers run on the injected ThreadPool.
type Model struct {
	id           uuid.UUID
	pool         ThreadPool
	logger       logr.Logger
	metrics      Metrics
	panicHandler PanicHandler
	stopPoll     time.Duration

	mu       sync.Mutex
	vertices map[string]*vertex
	order    []string // scheduler names in build order
	edges    []edge
	problems error

	started atomic.Bool
	stopped atomic.Bool
}

// NewModel creates an empty model. pool may be nil if no Concurrent scheduler is built.
func NewModel(pool ThreadPool, opts ...ModelOption) *Model {
	m := &Model{
		id:       uuid.New(),
		pool:     pool,
		logger:   logr.Discard(),
		metrics:  &NilMetrics{},
		stopPoll: defaultStopPollInterval,
		vertices: make(map[string]*vertex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithName("wiring").WithValues("model", m.id.String())
	if m.panicHandler == nil {
		m.panicHandler = &LoggingPanicHandler{Logger: m.logger}
	}
	return m
}

// ID returns the model instance ID used to correlate logs and metrics.
func (m *Model) ID() uuid.UUID { return m.id }

func (m *Model) Logger() logr.Logger { return m.logger }

// BuildScheduler creates a scheduler whose handlers produce Out. Configuration problems are
// returned here and also reported by Validate.
func BuildScheduler[Out any](m *Model, name string, opts ...SchedulerOption) (*TaskScheduler[Out], error) {
	cfg := defaultSchedulerSettings()
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := ValidateName(name)
	if err == nil {
		if _, exists := m.vertices[name]; exists {
			err = fmt.Errorf("scheduler %s: %w", name, ErrDuplicateScheduler)
		}
	}
	if err == nil {
		err = cfg.validate(name, m.pool)
	}
	if err != nil {
		m.problems = multierr.Append(m.problems, err)
		return nil, err
	}

	s := newTaskScheduler[Out](m, name, cfg)
	m.vertices[name] = &vertex{name: name, kind: vertexScheduler, scheduler: s, bound: map[string]bool{}}
	m.order = append(m.order, name)
	m.logger.V(1).Info("Built scheduler", "scheduler", name, "type", cfg.typ.String(), "capacity", cfg.capacity)
	return s, nil
}

// Schedulers returns every scheduler in build order.
func (m *Model) Schedulers() []Scheduler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.order, func(name string, _ int) Scheduler {
		return m.vertices[name].scheduler
	})
}

// Scheduler looks a scheduler up by name.
func (m *Model) Scheduler(name string) (Scheduler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vertices[name]
	if !ok || v.kind != vertexScheduler {
		return nil, false
	}
	return v.scheduler, true
}

// BoundedSchedulers returns the schedulers with a finite capacity; these are the ones the
// health monitor watches.
func (m *Model) BoundedSchedulers() []Scheduler {
	return lo.Filter(m.Schedulers(), func(s Scheduler, _ int) bool {
		return s.Capacity() != UnlimitedCapacity
	})
}

// Validate reports every configuration problem found so far: failed builds and input wires
// that were never bound.
func (m *Model) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.problems
	for _, name := range m.order {
		v := m.vertices[name]
		for _, label := range v.inputs {
			if !v.bound[label] {
				err = multierr.Append(err, fmt.Errorf("input wire %s/%s: %w", name, label, ErrUnboundWire))
			}
		}
	}
	return err
}

// Start starts the thread pool.
func (m *Model) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	if m.pool != nil {
		m.pool.Start(ctx)
	}
	m.logger.Info("Wiring model started", "schedulers", len(m.Schedulers()))
}

// Stop refuses new external submissions, waits for in-flight work to drain, then stops every
// scheduler and the pool. Work forwarded from inside the pipeline is still admitted while
// draining. If ctx ends first, the teardown happens anyway and ctx.Err() is returned.
func (m *Model) Stop(ctx context.Context) error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("Stopping wiring model")

	drainErr := m.waitIdle(ctx)
	if drainErr != nil {
		m.logger.Error(drainErr, "In-flight work did not drain before teardown")
	}

	for _, s := range m.Schedulers() {
		s.stop()
	}
	if m.pool != nil {
		m.pool.Stop()
	}
	return drainErr
}

// IsStopped reports whether Stop was called.
func (m *Model) IsStopped() bool { return m.stopped.Load() }

func (m *Model) waitIdle(ctx context.Context) error {
	schedulers := m.Schedulers()
	idle := func() bool {
		return lo.EveryBy(schedulers, func(s Scheduler) bool {
			return s.UnprocessedTaskCount() == 0
		})
	}
	if idle() {
		return nil
	}

	ticker := time.NewTicker(m.stopPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if idle() {
				return nil
			}
		}
	}
}

// =============================================================================
// Graph bookkeeping, called by wires
// =============================================================================

func (m *Model) recordInput(scheduler, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vertices[scheduler]; ok {
		v.inputs = append(v.inputs, label)
	}
}

func (m *Model) recordBound(scheduler, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vertices[scheduler]; ok {
		v.bound[label] = true
	}
}

func (m *Model) recordEdge(from, to, label string, typ SolderType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, edge{from: from, to: to, label: label, typ: typ})
}

func (m *Model) recordTransformer(from, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vertices[name]; !ok {
		m.vertices[name] = &vertex{name: name, kind: vertexTransformer}
	}
	m.edges = append(m.edges, edge{from: from, to: name, typ: SolderTypePut})
}

func (m *Model) recordFunc(from, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vertices[label]; !ok {
		m.vertices[label] = &vertex{name: label, kind: vertexFunc}
	}
	m.edges = append(m.edges, edge{from: from, to: label, typ: SolderTypePut})
}
