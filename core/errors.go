package core

import "errors"

// Configuration errors. These are returned while the model is being built, before any task flows.
var (
	ErrInvalidName          = errors.New("illegal name")
	ErrDuplicateScheduler   = errors.New("duplicate scheduler name")
	ErrInvalidCapacity      = errors.New("invalid capacity")
	ErrInvalidConfiguration = errors.New("invalid scheduler configuration")
	ErrAlreadyBound         = errors.New("input wire already bound")
)

// Runtime errors.
var (
	// ErrAdmissionTimeout is returned when capacity did not free up before the deadline.
	// No capacity is held by the caller when it is returned.
	ErrAdmissionTimeout = errors.New("admission timed out")

	// ErrCounterUnderflow signals more releases than reservations. The backpressure guarantee of
	// the affected domain is already broken when this happens.
	ErrCounterUnderflow = errors.New("object counter released more than was reserved")

	ErrSchedulerClosed  = errors.New("scheduler is closed")
	ErrModelStopped     = errors.New("wiring model is stopped")
	ErrFlushUnsupported = errors.New("flushing is not enabled for this scheduler")
	ErrUnboundWire      = errors.New("input wire has no bound handler")
)
