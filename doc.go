// Package wiring builds pipelines of task schedulers connected by typed wires, with bounded
// memory enforced through shared backpressure counters.
//
// A Model owns a set of schedulers. Each scheduler runs handlers in one of three ways:
// Sequential schedulers drain a FIFO queue on a dedicated goroutine, Concurrent schedulers hand
// tasks to the shared thread pool, and Direct schedulers run the handler on the caller's
// goroutine. Handlers are attached to input wires; whatever a handler returns is forwarded to
// every receiver soldered to the scheduler's output wire.
//
// # Backpressure
//
// An ObjectCounter counts items in flight. A scheduler on-ramps its counter before a task is
// admitted and off-ramps it once the handler and all forwarding have finished. Sharing one
// BackpressureCounter between the first and last stage of a pipeline bounds everything in
// between, including cycles that recycle objects back to the producer.
//
// # Quick Start
//
//	pool := wiring.NewGoroutineThreadPool("app", 4)
//	m := wiring.NewModel(pool)
//
//	parse, _ := wiring.BuildScheduler[int](m, "Parse", wiring.WithType(wiring.SchedulerTypeConcurrent))
//	sink, _ := wiring.BuildScheduler[wiring.NoOutput](m, "Sink", wiring.WithCapacity(100))
//
//	in := wiring.BuildInputWire[string, int](parse, "raw")
//	out := wiring.BuildInputWire[int, wiring.NoOutput](sink, "parsed")
//	parse.OutputWire().SolderTo(out)
//
//	_ = in.Bind(func(ctx context.Context, s string) (int, bool) { n, err := strconv.Atoi(s); return n, err == nil })
//	_ = out.BindConsumer(func(ctx context.Context, n int) { fmt.Println(n) })
//
//	if err := m.Validate(); err != nil { ... }
//	m.Start(ctx)
//	defer m.Stop(ctx)
//	_ = in.Put(ctx, "42")
//
// Build-time problems such as duplicate names, unbound inputs, or a Direct scheduler given a
// capacity are collected and returned by Validate. CheckForCyclicalBackpressure reports wiring
// loops in which every edge can block, and GenerateWiringDiagram renders the model as Mermaid.
//
// # Health
//
// A HealthMonitor periodically compares each bounded scheduler's unprocessed count against its
// capacity and reports how long the system has been over capacity.
package wiring
