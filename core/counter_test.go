package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestBackpressureCounter_InvariantUnderRaces verifies 0 <= count <= capacity
// Given: A counter with capacity 8 shared by 32 goroutines
// When: Every goroutine repeatedly on-ramps and off-ramps one unit
// Then: No observer ever sees the count outside [0, capacity] and it ends at zero
func TestBackpressureCounter_InvariantUnderRaces(t *testing.T) {
	// Arrange
	const capacity = 8
	c := NewBackpressureCounter("race", capacity)
	var violations atomic.Int64
	stop := make(chan struct{})

	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if v := c.Count(); v < 0 || v > capacity {
				violations.Add(1)
			}
		}
	}()

	// Act
	g, ctx := errgroup.WithContext(context.Background())
	for range 32 {
		g.Go(func() error {
			for range 500 {
				if err := c.OnRamp(ctx, 1); err != nil {
					return err
				}
				if v := c.Count(); v > capacity {
					violations.Add(1)
				}
				c.OffRamp(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(stop)
	observer.Wait()

	// Assert
	assert.Zero(t, violations.Load())
	assert.Zero(t, c.Count())
}

// TestBackpressureCounter_BlocksUntilOffRamp verifies blocking admission
// Given: A full counter
// When: A producer on-ramps and later a unit is released
// Then: The producer stays blocked until the release and then proceeds
func TestBackpressureCounter_BlocksUntilOffRamp(t *testing.T) {
	// Arrange
	c := NewBackpressureCounter("blocking", 2)
	require.NoError(t, c.OnRamp(context.Background(), 2))

	admitted := make(chan struct{})

	// Act
	go func() {
		_ = c.OnRamp(context.Background(), 1)
		close(admitted)
	}()

	// Assert
	select {
	case <-admitted:
		t.Fatal("on-ramp succeeded while the counter was full")
	case <-time.After(50 * time.Millisecond):
	}

	c.OffRamp(1)
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("on-ramp did not proceed after off-ramp")
	}
	assert.Equal(t, int64(2), c.Count())
}

// TestBackpressureCounter_Timeout verifies the timed admission
// Given: A full counter with a 20ms minimum block
// When: OnRampWithTimeout is called with a 1ms timeout
// Then: It waits at least the minimum block, returns ErrAdmissionTimeout and reserves nothing
func TestBackpressureCounter_Timeout(t *testing.T) {
	// Arrange
	c := NewBackpressureCounter("timeout", 1, WithMinimumBlock(20*time.Millisecond))
	require.True(t, c.AttemptOnRamp(1))

	// Act
	start := time.Now()
	err := c.OnRampWithTimeout(1, time.Millisecond)

	// Assert
	require.ErrorIs(t, err, ErrAdmissionTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), c.Count())

	c.OffRamp(1)
	assert.NoError(t, c.OnRampWithTimeout(1, time.Millisecond))
}

// TestBackpressureCounter_CancelLeavesNoReservation verifies cancellation
// Given: A full counter and a producer blocked in OnRamp
// When: The producer's context is cancelled
// Then: OnRamp returns context.Canceled and the count is unchanged
func TestBackpressureCounter_CancelLeavesNoReservation(t *testing.T) {
	c := NewBackpressureCounter("cancel", 1)
	require.NoError(t, c.OnRamp(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.OnRamp(ctx, 1) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled on-ramp did not return")
	}
	assert.Equal(t, int64(1), c.Count())

	c.OffRamp(1)
	assert.True(t, c.AttemptOnRamp(1), "capacity must be intact after cancellation")
}

func TestBackpressureCounter_ForceOnRampOverdraft(t *testing.T) {
	// Given: A counter of capacity 2 with 2 regular and 3 forced units
	c := NewBackpressureCounter("force", 2)
	require.True(t, c.AttemptOnRamp(2))
	c.ForceOnRamp(3)

	// Then: The count exceeds capacity and regular admission is refused
	assert.Equal(t, int64(5), c.Count())
	assert.False(t, c.AttemptOnRamp(1))

	// When: The forced units are released
	c.OffRamp(3)

	// Then: The semaphore is still full
	assert.Equal(t, int64(2), c.Count())
	assert.False(t, c.AttemptOnRamp(1))

	// When: The rest is released
	c.OffRamp(2)
	assert.True(t, c.AttemptOnRamp(2))
}

func TestBackpressureCounter_Underflow(t *testing.T) {
	c := NewBackpressureCounter("underflow", 4)
	require.True(t, c.AttemptOnRamp(1))

	defer func() {
		r := recover()
		require.NotNil(t, r, "OffRamp past zero must panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrCounterUnderflow))
		assert.Equal(t, int64(1), c.Count())
	}()
	c.OffRamp(2)
}

func TestBackpressureCounter_RequestAboveCapacity(t *testing.T) {
	c := NewBackpressureCounter("big", 2)

	assert.ErrorIs(t, c.OnRamp(context.Background(), 3), ErrInvalidCapacity)
	assert.False(t, c.AttemptOnRamp(3))
	assert.Panics(t, func() { c.ForceOnRamp(-1) })
	assert.Panics(t, func() { NewBackpressureCounter("zero", 0) })
}

func TestStandardCounter(t *testing.T) {
	c := NewStandardCounter("standard")

	require.NoError(t, c.OnRamp(context.Background(), 5))
	assert.True(t, c.AttemptOnRamp(5))
	assert.Equal(t, int64(10), c.Count())
	assert.Equal(t, UnlimitedCapacity, c.Capacity())

	c.OffRamp(10)
	assert.NoError(t, c.WaitUntilEmpty(context.Background()))
	assert.Panics(t, func() { c.OffRamp(1) })
}

func TestNoOpCounter(t *testing.T) {
	var c ObjectCounter = NoOpCounter{}

	assert.NoError(t, c.OnRamp(context.Background(), 100))
	c.OffRamp(1000)
	assert.Equal(t, int64(-1), c.Count())
}

// TestMultiCounter_RollsBackOnFailure verifies all-or-nothing admission
// Given: A multi counter over a roomy counter and a full one
// When: AttemptOnRamp and a timed OnRamp are refused by the second counter
// Then: The first counter's reservation is released again
func TestMultiCounter_RollsBackOnFailure(t *testing.T) {
	// Arrange
	own := NewBackpressureCounter("own", 10)
	shared := NewBackpressureCounter("shared", 1)
	require.True(t, shared.AttemptOnRamp(1))
	c := NewMultiCounter(own, shared)

	// Act / Assert
	assert.False(t, c.AttemptOnRamp(1))
	assert.Zero(t, own.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.OnRamp(ctx, 1), context.DeadlineExceeded)
	assert.Zero(t, own.Count())

	// Once there is room, both are reserved
	shared.OffRamp(1)
	require.True(t, c.AttemptOnRamp(1))
	assert.Equal(t, int64(1), own.Count())
	assert.Equal(t, int64(1), shared.Count())
	assert.Equal(t, "own", c.Name())

	c.OffRamp(1)
	assert.NoError(t, c.WaitUntilEmpty(context.Background()))
}
