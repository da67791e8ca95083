package wiring

import (
	"fmt"

	"github.com/Swind/go-wiring/core"
	"github.com/go-logr/logr"
)

// Pipeline bundles a model with the shared pieces built from a PipelineConfig.
type Pipeline struct {
	Model   *Model
	Pool    *core.GoroutineThreadPool
	Counter *core.BackpressureCounter
	Logger  logr.Logger
	Config  PipelineConfig
}

// NewPipeline builds the logger, thread pool, shared backpressure counter and model described by
// cfg. Extra model options are applied after the logger option, so they may override it.
func NewPipeline(name string, cfg PipelineConfig, opts ...core.ModelOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := core.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", name, err)
	}
	logger = logger.WithName(name)

	pool := core.NewGoroutineThreadPool(name, cfg.Workers, core.WithPoolLogger(logger))
	counter := core.NewBackpressureCounter(name, cfg.CounterCapacity, core.WithCounterLogger(logger))
	m := core.NewModel(pool, append([]core.ModelOption{core.WithLogger(logger)}, opts...)...)

	return &Pipeline{
		Model:   m,
		Pool:    pool,
		Counter: counter,
		Logger:  logger,
		Config:  cfg,
	}, nil
}

// Scheduler returns the scheduler options configured for name, falling back to fallback when
// the configuration does not mention it.
func (p *Pipeline) Scheduler(name string, fallback SchedulerConfiguration, extra ...SchedulerOption) []SchedulerOption {
	return append([]SchedulerOption{core.WithConfiguration(p.Config.Scheduler(name, fallback))}, extra...)
}

// HealthMonitor creates a monitor over the model's bounded schedulers using the configured
// thresholds.
func (p *Pipeline) HealthMonitor(opts ...core.HealthMonitorOption) *HealthMonitor {
	h := p.Config.Health
	opts = append([]core.HealthMonitorOption{
		core.WithHealthLogger(p.Logger),
		core.WithHealthyThreshold(h.HealthyThreshold),
	}, opts...)
	return core.NewHealthMonitor(p.Model.Schedulers(), h.LogThreshold, h.LogPeriod, opts...)
}
