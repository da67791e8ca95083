package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// HealthReport is published to listeners whenever the aggregate unhealthy duration changes.
type HealthReport struct {
	Time              time.Time
	UnhealthyDuration time.Duration
	Healthy           bool
}

// HealthMonitorOption configures a HealthMonitor.
type HealthMonitorOption func(*HealthMonitor)

// WithHealthClock replaces the real clock, mostly for tests.
func WithHealthClock(c clock.WithTicker) HealthMonitorOption {
	return func(h *HealthMonitor) { h.clock = c }
}

// WithHealthMetrics sets the sink for the aggregate health.
func WithHealthMetrics(m HealthMetrics) HealthMonitorOption {
	return func(h *HealthMonitor) { h.metrics = m }
}

// WithHealthyThreshold sets the unhealthy duration below which the system still counts as
// healthy. The default is one second.
func WithHealthyThreshold(d time.Duration) HealthMonitorOption {
	return func(h *HealthMonitor) { h.healthyThreshold = d }
}

// WithHealthLogger sets the logger for unhealthy schedulers and tick failures.
func WithHealthLogger(logger logr.Logger) HealthMonitorOption {
	return func(h *HealthMonitor) { h.logger = logger }
}

// HealthMonitor watches bounded schedulers and measures how long any of them has held more
// unprocessed tasks than its capacity. It only reads counters, so it never blocks the data path.
type HealthMonitor struct {
	schedulers       []Scheduler
	healthyThreshold time.Duration
	clock            clock.WithTicker
	metrics          HealthMetrics
	logger           logr.Logger
	healthLog        *healthLogger

	mu       sync.Mutex // serializes ticks
	since    []time.Time
	previous time.Duration

	current atomic.Int64 // last reported duration, nanoseconds

	listenersMu sync.RWMutex
	listeners   []func(HealthReport)
}

// NewHealthMonitor creates a monitor for schedulers. Schedulers without a capacity are skipped.
// Unhealthy schedulers are logged once they have been unhealthy for logThreshold, at most once
// per logPeriod each.
func NewHealthMonitor(schedulers []Scheduler, logThreshold, logPeriod time.Duration, opts ...HealthMonitorOption) *HealthMonitor {
	h := &HealthMonitor{
		healthyThreshold: time.Second,
		clock:            clock.RealClock{},
		metrics:          NilHealthMetrics{},
		logger:           logr.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithName("health-monitor")
	h.healthLog = newHealthLogger(h.logger, logThreshold, logPeriod)

	for _, s := range schedulers {
		if s.Capacity() != UnlimitedCapacity {
			h.schedulers = append(h.schedulers, s)
		}
	}
	h.since = make([]time.Time, len(h.schedulers))
	return h
}

// OnHealthChange registers fn to be called, on the monitor's goroutine, with every report.
func (h *HealthMonitor) OnHealthChange(fn func(HealthReport)) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// CheckSystemHealth evaluates every scheduler at now. It returns the longest time any scheduler
// has been unhealthy and true if that value differs from the previous report; otherwise it
// returns zero and false.
//
// A panicking scheduler or metrics sink is logged and the check returns zero and false. The
// previous report is kept, so the same change is reported again by the next check.
func (h *HealthMonitor) CheckSystemHealth(now time.Time) (longest time.Duration, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	previous := h.previous
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(fmt.Errorf("panic: %v", r), "Health check failed", "stack", string(debug.Stack()))
			h.previous = previous
			h.current.Store(int64(previous))
			longest, changed = 0, false
		}
	}()

	for i, s := range h.schedulers {
		if s.UnprocessedTaskCount() <= s.Capacity() {
			h.since[i] = time.Time{}
			continue
		}
		if h.since[i].IsZero() {
			h.since[i] = now
		}
		d := now.Sub(h.since[i])
		h.healthLog.report(s, d, now)
		longest = max(longest, d)
	}

	if longest == h.previous {
		return 0, false
	}
	h.previous = longest
	h.current.Store(int64(longest))

	report := HealthReport{Time: now, UnhealthyDuration: longest, Healthy: longest < h.healthyThreshold}
	h.metrics.SetUnhealthyDuration(longest)
	h.metrics.SetHealthy(report.Healthy)
	h.notify(report)
	return longest, true
}

// UnhealthyDuration returns the most recently reported duration.
func (h *HealthMonitor) UnhealthyDuration() time.Duration {
	return time.Duration(h.current.Load())
}

// Run checks health every interval until ctx is done.
func (h *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := h.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			h.tick(now)
		}
	}
}

// tick runs one check; CheckSystemHealth never panics, so a bad tick cannot end Run.
func (h *HealthMonitor) tick(now time.Time) {
	h.CheckSystemHealth(now)
}

// notify calls every listener. A panicking listener is logged and the rest still run.
func (h *HealthMonitor) notify(report HealthReport) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for i, fn := range h.listeners {
		h.callListener(i, fn, report)
	}
}

func (h *HealthMonitor) callListener(i int, fn func(HealthReport), report HealthReport) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(fmt.Errorf("panic: %v", r), "Health listener failed", "listener", i)
		}
	}()
	fn(report)
}
