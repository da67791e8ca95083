// Command wiringdemo runs the four stage cyclic pipeline under shared backpressure and exposes
// its scheduler, pool and health metrics over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	wiring "github.com/Swind/go-wiring"
	"github.com/Swind/go-wiring/core"
	obs "github.com/Swind/go-wiring/observability/prometheus"
	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	opts := NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type message struct {
	seq      int64
	checksum int64
	verified bool
}

type demo struct {
	pipeline  *wiring.Pipeline
	input     *wiring.InputWire[*message, *message]
	freeList  chan *message
	processed atomic.Int64
	sum       atomic.Int64
}

func run(opts *Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	cfg, err := opts.PipelineConfig()
	if err != nil {
		return err
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	exporter, err := obs.NewMetricsExporter("wiring", reg, obs.ExporterOptions{})
	if err != nil {
		return err
	}
	gauges, err := obs.NewHealthGauges("wiring", reg)
	if err != nil {
		return err
	}
	poller, err := obs.NewSnapshotPoller(reg, opts.PollInterval)
	if err != nil {
		return err
	}

	p, err := wiring.NewPipeline("wiringdemo", cfg, core.WithMetrics(exporter))
	if err != nil {
		return err
	}
	d, err := buildDemo(p)
	if err != nil {
		return err
	}
	logger := p.Logger

	if opts.Diagram {
		fmt.Print(p.Model.GenerateWiringDiagram())
		return nil
	}
	for _, c := range p.Model.CheckForCyclicalBackpressure() {
		logger.Info("Wiring contains a blocking cycle", "cycle", c.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p.Model.Start(ctx)
	poller.AddModel(p.Model)
	poller.AddPool(p.Pool.ID(), p.Pool)
	poller.Start(ctx)
	defer poller.Stop()

	monitor := p.HealthMonitor(core.WithHealthMetrics(gauges))
	monitor.OnHealthChange(func(r core.HealthReport) {
		logger.V(1).Info("Health changed", "healthy", r.Healthy, "unhealthyFor", r.UnhealthyDuration)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(gctx, cfg.Health.Interval)
		return nil
	})
	if opts.MetricsAddr != "" {
		server := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", opts.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		// Producing finished (or was interrupted): drain and tear down, then release the rest
		defer stop()
		start := time.Now()
		produced, err := d.produce(gctx, opts.Messages)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return d.shutdown(logger, produced, time.Since(start))
	})

	return g.Wait()
}

func metricsMux(reg *prom.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func buildDemo(p *wiring.Pipeline) (*demo, error) {
	m := p.Model
	concurrent := core.SchedulerConfiguration{Type: core.SchedulerTypeConcurrent, Capacity: core.UnlimitedCapacity}
	sequential := core.DefaultSchedulerConfiguration()

	verifier, err := wiring.BuildScheduler[*message](m, "Verifier",
		p.Scheduler("Verifier", concurrent, wiring.WithOnRamp(p.Counter))...)
	if err != nil {
		return nil, err
	}
	orderer, err := wiring.BuildScheduler[*message](m, "Orderer", p.Scheduler("Orderer", sequential)...)
	if err != nil {
		return nil, err
	}
	poolReturn, err := wiring.BuildScheduler[*message](m, "PoolReturn",
		p.Scheduler("PoolReturn", sequential, wiring.WithOffRamp(p.Counter))...)
	if err != nil {
		return nil, err
	}
	recycler, err := wiring.BuildScheduler[wiring.NoOutput](m, "Recycler", wiring.WithType(wiring.SchedulerTypeDirect))
	if err != nil {
		return nil, err
	}

	d := &demo{
		pipeline: p,
		input:    wiring.BuildInputWire[*message, *message](verifier, "unverified"),
		freeList: make(chan *message, p.Config.CounterCapacity),
	}
	ordererIn := wiring.BuildInputWire[*message, *message](orderer, "verified")
	poolReturnIn := wiring.BuildInputWire[*message, *message](poolReturn, "ordered")
	recyclerIn := wiring.BuildInputWire[*message, wiring.NoOutput](recycler, "spent")

	verifier.OutputWire().SolderTo(ordererIn)
	orderer.OutputWire().SolderTo(poolReturnIn)
	poolReturn.OutputWire().SolderTo(recyclerIn)

	if err := d.input.Bind(func(ctx context.Context, msg *message) (*message, bool) {
		msg.verified = msg.checksum == msg.seq*31
		return msg, true
	}); err != nil {
		return nil, err
	}
	if err := ordererIn.Bind(func(ctx context.Context, msg *message) (*message, bool) {
		return msg, true
	}); err != nil {
		return nil, err
	}
	if err := poolReturnIn.Bind(func(ctx context.Context, msg *message) (*message, bool) {
		if msg.verified {
			d.sum.Add(msg.seq)
		}
		d.processed.Add(1)
		return msg, true
	}); err != nil {
		return nil, err
	}
	if err := recyclerIn.BindConsumer(func(ctx context.Context, msg *message) {
		*msg = message{}
		select {
		case d.freeList <- msg:
		default:
		}
	}); err != nil {
		return nil, err
	}

	return d, m.Validate()
}

// produce pushes messages until n have been admitted, or forever when n is 0.
func (d *demo) produce(ctx context.Context, n int64) (int64, error) {
	var produced int64
	for n == 0 || produced < n {
		var msg *message
		select {
		case msg = <-d.freeList:
		default:
			msg = &message{}
		}
		msg.seq = produced + 1
		msg.checksum = msg.seq * 31

		if err := d.input.Put(ctx, msg); err != nil {
			return produced, err
		}
		produced++
	}
	return produced, nil
}

func (d *demo) shutdown(logger logr.Logger, produced int64, elapsed time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.pipeline.Counter.WaitUntilEmpty(ctx); err != nil {
		logger.Error(err, "Pipeline did not drain")
	}
	if err := d.pipeline.Model.Stop(ctx); err != nil {
		return fmt.Errorf("stopping model: %w", err)
	}

	want := produced * (produced + 1) / 2
	logger.Info("Pipeline finished",
		"produced", produced,
		"processed", d.processed.Load(),
		"elapsed", elapsed,
		"checksumOK", d.sum.Load() == want)
	if d.sum.Load() != want {
		return fmt.Errorf("checksum mismatch: got %d, want %d", d.sum.Load(), want)
	}
	return nil
}
