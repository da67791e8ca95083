package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// ObjectCounter tracks the number of objects in flight through one or more schedulers.
//
// OnRamp is called when an object enters the part of the pipeline guarded by the counter and
// OffRamp when it leaves. Bounded implementations block on OnRamp while the counter is at its
// ceiling. OffRamp never blocks and must be called exactly once per successful on-ramp,
// including on failure paths.
//
// Implementations must be safe for concurrent use.
type ObjectCounter interface {
	// Name returns the counter name used in logs and metrics.
	Name() string

	// OnRamp reserves n units, blocking until they are available. If ctx is done before the
	// reservation succeeds, ctx.Err() is returned and nothing is reserved.
	OnRamp(ctx context.Context, n int64) error

	// OnRampWithTimeout reserves n units or returns ErrAdmissionTimeout once timeout elapsed.
	OnRampWithTimeout(n int64, timeout time.Duration) error

	// AttemptOnRamp reserves n units only if they are available right now.
	AttemptOnRamp(n int64) bool

	// ForceOnRamp reserves n units even if that takes the counter past its capacity.
	ForceOnRamp(n int64)

	// OffRamp releases n units.
	OffRamp(n int64)

	// Count returns the current number of reserved units, or -1 if the counter does not track.
	Count() int64

	// Capacity returns the ceiling, or UnlimitedCapacity.
	Capacity() int64

	// WaitUntilEmpty blocks until Count reaches zero or ctx is done.
	WaitUntilEmpty(ctx context.Context) error
}

// emptyPollInterval is how often WaitUntilEmpty re-checks the count.
const emptyPollInterval = time.Millisecond

func checkRampAmount(counter string, n int64) {
	if n < 0 {
		panic(fmt.Sprintf("ObjectCounter %s: negative ramp amount %d", counter, n))
	}
}

func waitUntilZero(ctx context.Context, count func() int64) error {
	if count() <= 0 {
		return nil
	}
	ticker := time.NewTicker(emptyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if count() <= 0 {
				return nil
			}
		}
	}
}

// =============================================================================
// StandardCounter: counts without ever blocking
// =============================================================================

// StandardCounter tracks in-flight objects without a ceiling.
type StandardCounter struct {
	name  string
	count atomic.Int64
}

var _ ObjectCounter = (*StandardCounter)(nil)

func NewStandardCounter(name string) *StandardCounter {
	return &StandardCounter{name: name}
}

func (c *StandardCounter) Name() string { return c.name }

func (c *StandardCounter) OnRamp(ctx context.Context, n int64) error {
	checkRampAmount(c.name, n)
	c.count.Add(n)
	return nil
}

func (c *StandardCounter) OnRampWithTimeout(n int64, timeout time.Duration) error {
	checkRampAmount(c.name, n)
	c.count.Add(n)
	return nil
}

func (c *StandardCounter) AttemptOnRamp(n int64) bool {
	checkRampAmount(c.name, n)
	c.count.Add(n)
	return true
}

func (c *StandardCounter) ForceOnRamp(n int64) {
	checkRampAmount(c.name, n)
	c.count.Add(n)
}

func (c *StandardCounter) OffRamp(n int64) {
	checkRampAmount(c.name, n)
	if v := c.count.Add(-n); v < 0 {
		c.count.Add(n)
		panic(fmt.Errorf("ObjectCounter %s: %w (count would be %d)", c.name, ErrCounterUnderflow, v))
	}
}

func (c *StandardCounter) Count() int64    { return c.count.Load() }
func (c *StandardCounter) Capacity() int64 { return UnlimitedCapacity }

func (c *StandardCounter) WaitUntilEmpty(ctx context.Context) error {
	return waitUntilZero(ctx, c.Count)
}

// =============================================================================
// NoOpCounter: used when nothing needs to be tracked
// =============================================================================

// NoOpCounter implements ObjectCounter and does nothing.
type NoOpCounter struct{}

var _ ObjectCounter = NoOpCounter{}

func (NoOpCounter) Name() string                                           { return "noop" }
func (NoOpCounter) OnRamp(ctx context.Context, n int64) error              { return nil }
func (NoOpCounter) OnRampWithTimeout(n int64, timeout time.Duration) error { return nil }
func (NoOpCounter) AttemptOnRamp(n int64) bool                             { return true }
func (NoOpCounter) ForceOnRamp(n int64)                                    {}
func (NoOpCounter) OffRamp(n int64)                                        {}
func (NoOpCounter) Count() int64                                           { return -1 }
func (NoOpCounter) Capacity() int64                                        { return UnlimitedCapacity }
func (NoOpCounter) WaitUntilEmpty(ctx context.Context) error               { return nil }

// =============================================================================
// MultiCounter: one logical counter made of several
// =============================================================================

// MultiCounter applies every ramp operation to all of its counters. It is how a scheduler
// combines its own capacity with an external backpressure domain.
//
// On-ramps are all-or-nothing: if a later counter refuses, reservations already taken on the
// earlier counters are released before returning.
type MultiCounter struct {
	counters []ObjectCounter
}

var _ ObjectCounter = (*MultiCounter)(nil)

// NewMultiCounter panics if no counters are supplied.
func NewMultiCounter(counters ...ObjectCounter) *MultiCounter {
	if len(counters) == 0 {
		panic("MultiCounter: at least one counter is required")
	}
	return &MultiCounter{counters: counters}
}

func (c *MultiCounter) Name() string { return c.counters[0].Name() }

func (c *MultiCounter) OnRamp(ctx context.Context, n int64) error {
	for i, counter := range c.counters {
		if err := counter.OnRamp(ctx, n); err != nil {
			c.rollback(i, n)
			return err
		}
	}
	return nil
}

func (c *MultiCounter) OnRampWithTimeout(n int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for i, counter := range c.counters {
		if err := counter.OnRampWithTimeout(n, max(time.Until(deadline), 0)); err != nil {
			c.rollback(i, n)
			return err
		}
	}
	return nil
}

func (c *MultiCounter) AttemptOnRamp(n int64) bool {
	for i, counter := range c.counters {
		if !counter.AttemptOnRamp(n) {
			c.rollback(i, n)
			return false
		}
	}
	return true
}

func (c *MultiCounter) ForceOnRamp(n int64) {
	for _, counter := range c.counters {
		counter.ForceOnRamp(n)
	}
}

func (c *MultiCounter) OffRamp(n int64) {
	for _, counter := range c.counters {
		counter.OffRamp(n)
	}
}

// Count reports the first counter.
func (c *MultiCounter) Count() int64 { return c.counters[0].Count() }

// Capacity reports the first counter.
func (c *MultiCounter) Capacity() int64 { return c.counters[0].Capacity() }

func (c *MultiCounter) WaitUntilEmpty(ctx context.Context) error {
	for _, counter := range c.counters {
		if err := counter.WaitUntilEmpty(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *MultiCounter) rollback(upTo int, n int64) {
	for j := upTo - 1; j >= 0; j-- {
		c.counters[j].OffRamp(n)
	}
}
