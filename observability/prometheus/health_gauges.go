package prometheus

import (
	"time"

	"github.com/Swind/go-wiring/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// HealthGauges publishes the health monitor's aggregate state.
type HealthGauges struct {
	unhealthySeconds prom.Gauge
	healthy          prom.Gauge
}

var _ core.HealthMetrics = (*HealthGauges)(nil)

// NewHealthGauges creates and registers the health gauges.
func NewHealthGauges(namespace string, reg prom.Registerer) (*HealthGauges, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	unhealthy := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "unhealthy_duration_seconds",
		Help:      "Longest time any bounded scheduler has been over capacity.",
	})
	healthy := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "healthy",
		Help:      "System health (1=healthy, 0=unhealthy).",
	})

	var err error
	if unhealthy, err = registerCollector(reg, unhealthy); err != nil {
		return nil, err
	}
	if healthy, err = registerCollector(reg, healthy); err != nil {
		return nil, err
	}
	// Nothing has been observed yet
	healthy.Set(1)

	return &HealthGauges{unhealthySeconds: unhealthy, healthy: healthy}, nil
}

func (g *HealthGauges) SetUnhealthyDuration(d time.Duration) {
	if g == nil {
		return
	}
	g.unhealthySeconds.Set(d.Seconds())
}

func (g *HealthGauges) SetHealthy(healthy bool) {
	if g == nil {
		return
	}
	g.healthy.Set(boolGauge(healthy))
}
