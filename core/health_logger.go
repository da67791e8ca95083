package core

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// healthLogger reports unhealthy schedulers, at most once per period per scheduler and only
// after they have been unhealthy for threshold.
type healthLogger struct {
	logger    logr.Logger
	threshold time.Duration
	period    time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newHealthLogger(logger logr.Logger, threshold, period time.Duration) *healthLogger {
	return &healthLogger{
		logger:    logger,
		threshold: threshold,
		period:    period,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// report returns true if a line was emitted.
func (l *healthLogger) report(s Scheduler, unhealthyFor time.Duration, now time.Time) bool {
	if unhealthyFor < l.threshold {
		return false
	}
	if !l.limiter(s.Name()).AllowN(now, 1) {
		return false
	}
	l.logger.Info("Scheduler is unhealthy",
		"scheduler", s.Name(),
		"unhealthyFor", unhealthyFor.String(),
		"unprocessed", s.UnprocessedTaskCount(),
		"capacity", s.Capacity())
	return true
}

func (l *healthLogger) limiter(name string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.period), 1)
		l.limiters[name] = lim
	}
	return lim
}
