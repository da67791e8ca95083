package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// SolderType selects how an output wire hands items to a destination input wire.
type SolderType int

const (
	// SolderTypePut blocks the producer while the destination is at capacity.
	SolderTypePut SolderType = iota

	// SolderTypeOffer drops the item if the destination is at capacity.
	SolderTypeOffer

	// SolderTypeInject delivers the item regardless of capacity.
	SolderTypeInject
)

func (t SolderType) String() string {
	switch t {
	case SolderTypePut:
		return "put"
	case SolderTypeOffer:
		return "offer"
	case SolderTypeInject:
		return "inject"
	default:
		return fmt.Sprintf("SolderType(%d)", int(t))
	}
}

// Receiver is the destination side of a solder. InputWire implements it.
type Receiver[T any] interface {
	Put(ctx context.Context, item T) error
	Offer(ctx context.Context, item T) bool
	Inject(ctx context.Context, item T) error

	endpoint() (scheduler, label string)
}

// =============================================================================
// OutputWire
// =============================================================================

type destination[T any] func(ctx context.Context, item T)

// OutputWire fans items out to every soldered destination, in registration order.
//
// Forwarding runs on the goroutine of the task that produced the item, so a scheduler's
// off-ramp happens only after all of its destinations accepted (or refused) the item.
type OutputWire[T any] struct {
	model  *Model
	source string // scheduler name, or transformer name for derived wires

	mu    sync.Mutex // serializes solders
	dests atomic.Pointer[[]destination[T]]
}

func newOutputWire[T any](m *Model, source string) *OutputWire[T] {
	w := &OutputWire[T]{model: m, source: source}
	w.dests.Store(&[]destination[T]{})
	return w
}

// SolderOption configures a single solder.
type SolderOption func(*solderSettings)

type solderSettings struct {
	typ SolderType
}

// WithSolderType selects Put, Offer or Inject delivery. The default is Put.
func WithSolderType(t SolderType) SolderOption {
	return func(s *solderSettings) { s.typ = t }
}

// SolderTo connects this wire to dst. Every item forwarded afterwards is delivered to dst.
func (w *OutputWire[T]) SolderTo(dst Receiver[T], opts ...SolderOption) {
	settings := solderSettings{typ: SolderTypePut}
	for _, opt := range opts {
		opt(&settings)
	}

	target, label := dst.endpoint()
	logger := w.model.logger.WithValues("from", w.source, "to", target, "wire", label)

	var d destination[T]
	switch settings.typ {
	case SolderTypePut:
		d = func(ctx context.Context, item T) {
			if err := dst.Put(ctx, item); err != nil {
				logger.Error(err, "Dropped item")
			}
		}
	case SolderTypeOffer:
		d = func(ctx context.Context, item T) {
			if !dst.Offer(ctx, item) {
				logger.V(1).Info("Offer refused")
			}
		}
	case SolderTypeInject:
		d = func(ctx context.Context, item T) {
			if err := dst.Inject(ctx, item); err != nil {
				logger.Error(err, "Dropped item")
			}
		}
	default:
		panic(fmt.Sprintf("wire %s: unknown solder type %d", w.source, int(settings.typ)))
	}

	w.add(d)
	w.model.recordEdge(w.source, target, label, settings.typ)
}

// SolderToFunc delivers every item to fn on the producing goroutine.
func (w *OutputWire[T]) SolderToFunc(label string, fn func(ctx context.Context, item T)) {
	w.add(fn)
	w.model.recordFunc(w.source, label)
}

func (w *OutputWire[T]) add(d destination[T]) {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := *w.dests.Load()
	next := make([]destination[T], len(current), len(current)+1)
	copy(next, current)
	next = append(next, d)
	w.dests.Store(&next)
}

// Forward delivers item to every destination. Schedulers call it with their handler results;
// it may also be used to feed a pipeline from outside.
func (w *OutputWire[T]) Forward(ctx context.Context, item T) {
	for _, d := range *w.dests.Load() {
		d(ctx, item)
	}
}

// DestinationCount returns the number of soldered destinations.
func (w *OutputWire[T]) DestinationCount() int {
	return len(*w.dests.Load())
}

// =============================================================================
// InputWire
// =============================================================================

// Handler processes one item on a scheduler. Returning ok == false forwards nothing.
type Handler[In, Out any] func(ctx context.Context, item In) (out Out, ok bool)

// InputWire is a typed entry point into a TaskScheduler. Topology and behaviour are separate:
// the wire can be soldered before a handler is bound.
type InputWire[In, Out any] struct {
	scheduler *TaskScheduler[Out]
	label     string
	handler   atomic.Pointer[Handler[In, Out]]
}

var _ Receiver[int] = (*InputWire[int, int])(nil)

// BuildInputWire adds a named input to the scheduler.
func BuildInputWire[In, Out any](s *TaskScheduler[Out], label string) *InputWire[In, Out] {
	w := &InputWire[In, Out]{scheduler: s, label: label}
	s.model.recordInput(s.name, label)
	return w
}

func (w *InputWire[In, Out]) Label() string { return w.label }

// Bind installs the handler. A wire can be bound once.
func (w *InputWire[In, Out]) Bind(h Handler[In, Out]) error {
	if !w.handler.CompareAndSwap(nil, &h) {
		return fmt.Errorf("input wire %s/%s: %w", w.scheduler.name, w.label, ErrAlreadyBound)
	}
	w.scheduler.model.recordBound(w.scheduler.name, w.label)
	return nil
}

// BindConsumer installs a handler that produces no output.
func (w *InputWire[In, Out]) BindConsumer(fn func(ctx context.Context, item In)) error {
	return w.Bind(func(ctx context.Context, item In) (Out, bool) {
		fn(ctx, item)
		var zero Out
		return zero, false
	})
}

// Put submits item, blocking while the scheduler or its backpressure domain is full.
func (w *InputWire[In, Out]) Put(ctx context.Context, item In) error {
	task, err := w.task(item)
	if err != nil {
		return err
	}
	_, err = w.scheduler.submit(ctx, admitPut, task)
	return err
}

// Offer submits item only if there is capacity right now.
func (w *InputWire[In, Out]) Offer(ctx context.Context, item In) bool {
	task, err := w.task(item)
	if err != nil {
		return false
	}
	ok, err := w.scheduler.submit(ctx, admitOffer, task)
	return ok && err == nil
}

// Inject submits item ignoring capacity. Repeated injection is what makes a scheduler unhealthy.
func (w *InputWire[In, Out]) Inject(ctx context.Context, item In) error {
	task, err := w.task(item)
	if err != nil {
		return err
	}
	_, err = w.scheduler.submit(ctx, admitInject, task)
	return err
}

func (w *InputWire[In, Out]) task(item In) (Task, error) {
	h := w.handler.Load()
	if h == nil {
		return nil, fmt.Errorf("input wire %s/%s: %w", w.scheduler.name, w.label, ErrUnboundWire)
	}
	handler, out := *h, w.scheduler.output
	return func(ctx context.Context) {
		if result, ok := handler(ctx, item); ok {
			out.Forward(ctx, result)
		}
	}, nil
}

func (w *InputWire[In, Out]) endpoint() (string, string) {
	return w.scheduler.name, w.label
}
