package wiring_test

import (
	"context"
	"fmt"
	"strings"

	wiring "github.com/Swind/go-wiring"
)

// ExampleBuildScheduler shows a two stage pipeline with only one import.
func ExampleBuildScheduler() {
	m := wiring.NewModel(nil)

	upper, _ := wiring.BuildScheduler[string](m, "Upper")
	printer, _ := wiring.BuildScheduler[wiring.NoOutput](m, "Printer")

	in := wiring.BuildInputWire[string, string](upper, "words")
	out := wiring.BuildInputWire[string, wiring.NoOutput](printer, "upper")
	upper.OutputWire().SolderTo(out)

	_ = in.Bind(func(ctx context.Context, s string) (string, bool) {
		return strings.ToUpper(s), true
	})
	done := make(chan struct{})
	_ = out.BindConsumer(func(ctx context.Context, s string) {
		fmt.Println(s)
		if s == "C" {
			close(done)
		}
	})

	ctx := context.Background()
	m.Start(ctx)
	for _, s := range []string{"a", "b", "c"} {
		_ = in.Put(ctx, s)
	}
	<-done
	_ = m.Stop(ctx)

	// Output:
	// A
	// B
	// C
}

// ExampleNewBackpressureCounter shows a shared counter bounding a pipeline.
func ExampleNewBackpressureCounter() {
	counter := wiring.NewBackpressureCounter("example", 2)
	m := wiring.NewModel(nil)

	first, _ := wiring.BuildScheduler[int](m, "First", wiring.WithOnRamp(counter))
	last, _ := wiring.BuildScheduler[wiring.NoOutput](m, "Last", wiring.WithOffRamp(counter))

	in := wiring.BuildInputWire[int, int](first, "numbers")
	out := wiring.BuildInputWire[int, wiring.NoOutput](last, "doubled")
	first.OutputWire().SolderTo(out)

	sum := 0
	_ = in.Bind(func(ctx context.Context, n int) (int, bool) { return n * 2, true })
	_ = out.BindConsumer(func(ctx context.Context, n int) { sum += n })

	ctx := context.Background()
	m.Start(ctx)
	for i := 1; i <= 10; i++ {
		_ = in.Put(ctx, i)
	}
	_ = counter.WaitUntilEmpty(ctx)
	_ = m.Stop(ctx)

	fmt.Println("sum:", sum, "in flight:", counter.Count())

	// Output:
	// sum: 110 in flight: 0
}

// ExampleModel_GenerateWiringDiagram renders a model as a Mermaid flowchart.
func ExampleModel_GenerateWiringDiagram() {
	m := wiring.NewModel(nil)

	a, _ := wiring.BuildScheduler[int](m, "A", wiring.WithCapacity(10))
	b, _ := wiring.BuildScheduler[wiring.NoOutput](m, "B", wiring.WithType(wiring.SchedulerTypeDirect))
	a.OutputWire().SolderTo(wiring.BuildInputWire[int, wiring.NoOutput](b, "ints"))

	fmt.Print(m.GenerateWiringDiagram())

	// Output:
	// flowchart LR
	//     A["A<br/>sequential, capacity 10"]
	//     B["B<br/>direct"]
	//     A -->|ints| B
}
