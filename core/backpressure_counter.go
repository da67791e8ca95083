package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
)

// BackpressureCounter is an ObjectCounter with a ceiling. OnRamp blocks while the counter is
// full, which is how a backpressure domain pushes back on its producers.
//
// Regular reservations are taken from a weighted semaphore, so 0 <= Count() <= Capacity() holds
// under any interleaving of OnRamp/OffRamp. ForceOnRamp is the only way past the ceiling; forced
// units are tracked separately and are returned first on OffRamp.
type BackpressureCounter struct {
	name     string
	capacity int64
	minBlock time.Duration
	logger   logr.Logger

	sem    *semaphore.Weighted
	count  atomic.Int64 // reserved units, forced ones included
	forced atomic.Int64 // units reserved past the semaphore
}

var _ ObjectCounter = (*BackpressureCounter)(nil)

// BackpressureCounterOption configures a BackpressureCounter.
type BackpressureCounterOption func(*BackpressureCounter)

// WithMinimumBlock sets the minimum time OnRampWithTimeout waits before reporting a timeout.
func WithMinimumBlock(d time.Duration) BackpressureCounterOption {
	return func(c *BackpressureCounter) {
		c.minBlock = d
	}
}

// WithCounterLogger sets the logger used to report invariant violations.
func WithCounterLogger(logger logr.Logger) BackpressureCounterOption {
	return func(c *BackpressureCounter) {
		c.logger = logger
	}
}

// NewBackpressureCounter creates a counter that admits at most capacity units at once.
// It panics if capacity is not positive.
func NewBackpressureCounter(name string, capacity int64, opts ...BackpressureCounterOption) *BackpressureCounter {
	if capacity <= 0 {
		panic(fmt.Sprintf("BackpressureCounter %s: capacity must be positive, got %d", name, capacity))
	}
	c := &BackpressureCounter{
		name:     name,
		capacity: capacity,
		logger:   logr.Discard(),
		sem:      semaphore.NewWeighted(capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithName("backpressure-counter").WithValues("counter", name)
	return c
}

func (c *BackpressureCounter) Name() string    { return c.name }
func (c *BackpressureCounter) Count() int64    { return c.count.Load() }
func (c *BackpressureCounter) Capacity() int64 { return c.capacity }

// OnRamp blocks until n units are reserved or ctx is done.
func (c *BackpressureCounter) OnRamp(ctx context.Context, n int64) error {
	if err := c.checkReservable(n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if err := c.sem.Acquire(ctx, n); err != nil {
		return err
	}
	c.count.Add(n)
	return nil
}

// OnRampWithTimeout blocks for at most max(timeout, minimum block) and returns
// ErrAdmissionTimeout if the units could not be reserved in that time.
func (c *BackpressureCounter) OnRampWithTimeout(n int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), max(timeout, c.minBlock))
	defer cancel()

	err := c.OnRamp(ctx, n)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ObjectCounter %s: %w after %v", c.name, ErrAdmissionTimeout, max(timeout, c.minBlock))
	}
	return err
}

// AttemptOnRamp reserves n units if they are available without waiting.
func (c *BackpressureCounter) AttemptOnRamp(n int64) bool {
	if err := c.checkReservable(n); err != nil {
		return false
	}
	if !c.sem.TryAcquire(n) {
		return false
	}
	c.count.Add(n)
	return true
}

// ForceOnRamp reserves n units regardless of the ceiling.
func (c *BackpressureCounter) ForceOnRamp(n int64) {
	checkRampAmount(c.name, n)
	c.forced.Add(n)
	c.count.Add(n)
}

// OffRamp releases n units. Releasing more than is reserved panics with ErrCounterUnderflow.
func (c *BackpressureCounter) OffRamp(n int64) {
	checkRampAmount(c.name, n)
	if n == 0 {
		return
	}
	if v := c.count.Add(-n); v < 0 {
		c.count.Add(n)
		err := fmt.Errorf("ObjectCounter %s: %w (count would be %d)", c.name, ErrCounterUnderflow, v)
		c.logger.Error(err, "Backpressure invariant violated", "release", n)
		panic(err)
	}

	remaining := n
	for remaining > 0 {
		f := c.forced.Load()
		if f == 0 {
			break
		}
		take := min(f, remaining)
		if c.forced.CompareAndSwap(f, f-take) {
			remaining -= take
		}
	}
	if remaining > 0 {
		c.sem.Release(remaining)
	}
}

func (c *BackpressureCounter) WaitUntilEmpty(ctx context.Context) error {
	return waitUntilZero(ctx, c.Count)
}

func (c *BackpressureCounter) checkReservable(n int64) error {
	checkRampAmount(c.name, n)
	if n > c.capacity {
		return fmt.Errorf("ObjectCounter %s: %w: requested %d exceeds capacity %d", c.name, ErrInvalidCapacity, n, c.capacity)
	}
	return nil
}
