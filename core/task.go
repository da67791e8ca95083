package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// SchedulerType: the execution discipline of a scheduler
// =============================================================================

type SchedulerType int

const (
	// SchedulerTypeSequential: one dedicated drain loop, strict FIFO, never overlapping
	SchedulerTypeSequential SchedulerType = iota

	// SchedulerTypeConcurrent: tasks run on the shared thread pool, no ordering
	SchedulerTypeConcurrent

	// SchedulerTypeDirect: tasks run on the caller's goroutine, no queueing
	SchedulerTypeDirect
)

func (t SchedulerType) String() string {
	switch t {
	case SchedulerTypeSequential:
		return "sequential"
	case SchedulerTypeConcurrent:
		return "concurrent"
	case SchedulerTypeDirect:
		return "direct"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseSchedulerType converts a type keyword (case insensitive) into a SchedulerType.
func ParseSchedulerType(s string) (SchedulerType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SEQUENTIAL":
		return SchedulerTypeSequential, nil
	case "CONCURRENT":
		return SchedulerTypeConcurrent, nil
	case "DIRECT":
		return SchedulerTypeDirect, nil
	default:
		return 0, fmt.Errorf("%w: unknown scheduler type %q", ErrInvalidConfiguration, s)
	}
}

// UnlimitedCapacity is the capacity sentinel of schedulers without a bound.
const UnlimitedCapacity int64 = -1

// NoOutput is the output type of schedulers whose handlers produce nothing.
type NoOutput = struct{}

var legalName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateName checks that a scheduler or wire name only contains letters, digits and underscores.
func ValidateName(name string) error {
	if !legalName.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, legalName.String())
	}
	return nil
}

// =============================================================================
// Context Helper
// =============================================================================
type schedulerKeyType struct{}

var schedulerKey schedulerKeyType

// CurrentScheduler returns the scheduler executing the task that owns ctx, or nil when ctx
// does not belong to a scheduler task.
func CurrentScheduler(ctx context.Context) Scheduler {
	if v := ctx.Value(schedulerKey); v != nil {
		return v.(Scheduler)
	}
	return nil
}

func withCurrentScheduler(ctx context.Context, s Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey, s)
}

type discardKeyType struct{}

var discardKey discardKeyType

// withDiscard marks ctx for tasks dropped at teardown: a scheduler task called with it skips
// its work and only releases what its admission reserved.
func withDiscard(ctx context.Context) context.Context {
	return context.WithValue(ctx, discardKey, true)
}

func isDiscarded(ctx context.Context) bool {
	v, _ := ctx.Value(discardKey).(bool)
	return v
}
