package core

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task
	// - schedulerName: The name of the scheduler where the panic occurred
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, schedulerName string, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports task panics to a logr.Logger.
type LoggingPanicHandler struct {
	Logger logr.Logger
}

// HandlePanic logs the panic and its stack trace.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, schedulerName string, panicInfo any, stackTrace []byte) {
	h.Logger.Error(nil, "Task panicked", "scheduler", schedulerName, "panic", panicInfo, "stack", string(stackTrace))
}

// PanicHandlerFunc adapts a function to the PanicHandler interface.
type PanicHandlerFunc func(ctx context.Context, schedulerName string, panicInfo any, stackTrace []byte)

func (f PanicHandlerFunc) HandlePanic(ctx context.Context, schedulerName string, panicInfo any, stackTrace []byte) {
	f(ctx, schedulerName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(schedulerName string, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(schedulerName string, panicInfo any)

	// RecordTaskRejected records that a task was not admitted (offer refused, scheduler closed,
	// admission cancelled).
	RecordTaskRejected(schedulerName string, reason string)

	// RecordAdmissionWait records how long a producer was blocked by backpressure.
	RecordAdmissionWait(schedulerName string, wait time.Duration)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(schedulerName string, duration time.Duration) {}
func (m *NilMetrics) RecordTaskPanic(schedulerName string, panicInfo any)              {}
func (m *NilMetrics) RecordTaskRejected(schedulerName string, reason string)           {}
func (m *NilMetrics) RecordAdmissionWait(schedulerName string, wait time.Duration)     {}

// =============================================================================
// HealthMetrics: sink for the health monitor
// =============================================================================

// HealthMetrics receives the health monitor's aggregate view of the system.
type HealthMetrics interface {
	// SetUnhealthyDuration publishes the longest time any scheduler has been over capacity.
	SetUnhealthyDuration(d time.Duration)

	// SetHealthy publishes the binary health state.
	SetHealthy(healthy bool)
}

// NilHealthMetrics discards health metrics.
type NilHealthMetrics struct{}

func (NilHealthMetrics) SetUnhealthyDuration(d time.Duration) {}
func (NilHealthMetrics) SetHealthy(healthy bool)              {}

// Rejection reasons passed to Metrics.RecordTaskRejected.
const (
	RejectReasonFull      = "full"
	RejectReasonClosed    = "closed"
	RejectReasonCancelled = "cancelled"
	RejectReasonTimeout   = "timeout"
)
