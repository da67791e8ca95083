package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-wiring/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports scheduler/pool Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	schedulerUnprocessed *prom.GaugeVec
	schedulerQueued      *prom.GaugeVec
	schedulerCapacity    *prom.GaugeVec
	schedulerRejected    *prom.GaugeVec
	schedulerClosed      *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	schedulerGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: defaultNamespace,
			Name:      name,
			Help:      help,
		}, []string{"scheduler", "type"})
	}
	poolGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: defaultNamespace,
			Name:      name,
			Help:      help,
		}, []string{"pool"})
	}

	p := &SnapshotPoller{
		interval:   interval,
		schedulers: make(map[string]SchedulerSnapshotProvider),
		pools:      make(map[string]PoolSnapshotProvider),

		schedulerUnprocessed: schedulerGauge("scheduler_unprocessed", "Unprocessed task count per scheduler."),
		schedulerQueued:      schedulerGauge("scheduler_queued", "Tasks waiting in the scheduler's own queue."),
		schedulerCapacity:    schedulerGauge("scheduler_capacity", "Configured capacity per scheduler (-1=unlimited)."),
		schedulerRejected:    schedulerGauge("scheduler_rejected_total", "Scheduler rejected task count snapshot."),
		schedulerClosed:      schedulerGauge("scheduler_closed", "Scheduler closed state (1=closed, 0=open)."),

		poolQueued:  poolGauge("pool_queued", "Queued tasks per pool."),
		poolActive:  poolGauge("pool_active", "Active tasks per pool."),
		poolWorkers: poolGauge("pool_workers", "Worker count per pool."),
		poolRunning: poolGauge("pool_running", "Pool running state (1=running, 0=stopped)."),
	}

	for _, vec := range []**prom.GaugeVec{
		&p.schedulerUnprocessed, &p.schedulerQueued, &p.schedulerCapacity, &p.schedulerRejected, &p.schedulerClosed,
		&p.poolQueued, &p.poolActive, &p.poolWorkers, &p.poolRunning,
	} {
		registered, err := registerCollector(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// AddModel registers every scheduler currently built in m.
func (p *SnapshotPoller) AddModel(m *core.Model) {
	if p == nil || m == nil {
		return
	}
	for _, s := range m.Schedulers() {
		p.AddScheduler(s.Name(), s)
	}
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	for name, provider := range p.schedulers {
		stats := provider.Stats()
		typeLabel := stats.Type.String()
		p.schedulerUnprocessed.WithLabelValues(name, typeLabel).Set(float64(stats.Unprocessed))
		p.schedulerQueued.WithLabelValues(name, typeLabel).Set(float64(stats.Queued))
		p.schedulerCapacity.WithLabelValues(name, typeLabel).Set(float64(stats.Capacity))
		p.schedulerRejected.WithLabelValues(name, typeLabel).Set(float64(stats.Rejected))
		p.schedulerClosed.WithLabelValues(name, typeLabel).Set(boolGauge(stats.Closed))
	}
	p.schedulersMu.RUnlock()

	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}
	p.poolsMu.RUnlock()
}
