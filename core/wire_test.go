package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(ctx context.Context, v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, v)
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

// TestOutputWire_FanOutExactlyOnce verifies every consumer sees every item once
// Given: A producer soldered to three consumers of different types
// When: 500 items are produced
// Then: Each consumer receives each item exactly once
func TestOutputWire_FanOutExactlyOnce(t *testing.T) {
	// Arrange
	m := newTestModel(t, 4)
	producer, err := BuildScheduler[int](m, "producer", WithType(SchedulerTypeConcurrent))
	require.NoError(t, err)
	source := BuildInputWire[int, int](producer, "source")
	require.NoError(t, source.Bind(func(ctx context.Context, v int) (int, bool) { return v, true }))

	types := []SchedulerType{SchedulerTypeSequential, SchedulerTypeConcurrent, SchedulerTypeDirect}
	collectors := make([]*collector[int], len(types))
	var consumers []Scheduler
	for i, typ := range types {
		c, err := BuildScheduler[NoOutput](m, "consumer_"+typ.String(), WithType(typ), WithFlushing())
		require.NoError(t, err)
		in := BuildInputWire[int, NoOutput](c, "in")
		collectors[i] = &collector[int]{}
		require.NoError(t, in.BindConsumer(collectors[i].add))
		producer.OutputWire().SolderTo(in)
		consumers = append(consumers, c)
	}
	assert.Equal(t, 3, producer.OutputWire().DestinationCount())

	// Act
	const n = 500
	for i := range n {
		require.NoError(t, source.Put(context.Background(), i))
	}
	require.Eventually(t, func() bool { return producer.UnprocessedTaskCount() == 0 }, testTimeout, testTick)
	for _, c := range consumers {
		require.NoError(t, c.Flush(context.Background()))
	}

	// Assert
	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	for i, c := range collectors {
		got := c.snapshot()
		sort.Ints(got)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("consumer %s mismatch (-want +got):\n%s", types[i], diff)
		}
	}
}

// TestOutputWire_RegistrationOrder verifies destinations are called in solder order
func TestOutputWire_RegistrationOrder(t *testing.T) {
	m := NewModel(nil)
	s, err := BuildScheduler[string](m, "src", WithType(SchedulerTypeDirect))
	require.NoError(t, err)

	var order []string
	for _, label := range []string{"first", "second", "third"} {
		s.OutputWire().SolderToFunc(label, func(ctx context.Context, v string) {
			order = append(order, label+":"+v)
		})
	}

	s.OutputWire().Forward(context.Background(), "x")

	assert.Equal(t, []string{"first:x", "second:x", "third:x"}, order)
}

// TestOutputWire_OfferSolderDropsWhenFull verifies Offer solders never block the producer
// Given: A producer soldered with Offer into a consumer of capacity 1 that is blocked
// When: Three items are produced
// Then: The producer finishes and only the first item reaches the consumer
func TestOutputWire_OfferSolderDropsWhenFull(t *testing.T) {
	m := newTestModel(t, 1)
	producer, err := BuildScheduler[int](m, "producer", WithType(SchedulerTypeDirect))
	require.NoError(t, err)
	consumer, err := BuildScheduler[NoOutput](m, "consumer", WithCapacity(1), WithFlushing())
	require.NoError(t, err)

	source := BuildInputWire[int, int](producer, "source")
	require.NoError(t, source.Bind(func(ctx context.Context, v int) (int, bool) { return v, true }))
	in := BuildInputWire[int, NoOutput](consumer, "in")
	release := make(chan struct{})
	got := &collector[int]{}
	require.NoError(t, in.BindConsumer(func(ctx context.Context, v int) {
		<-release
		got.add(ctx, v)
	}))
	producer.OutputWire().SolderTo(in, WithSolderType(SolderTypeOffer))

	for i := range 3 {
		require.NoError(t, source.Put(context.Background(), i))
	}
	close(release)
	require.NoError(t, consumer.Flush(context.Background()))

	assert.Equal(t, []int{0}, got.snapshot())
	assert.Equal(t, int64(2), consumer.Stats().Rejected)
}

func TestTransformFilterSplit(t *testing.T) {
	// Given: A direct source wire of string slices, split into words, filtered and transformed
	m := NewModel(nil)
	s, err := BuildScheduler[[]string](m, "lines", WithType(SchedulerTypeDirect))
	require.NoError(t, err)

	words := Split(s.OutputWire(), "words")
	long := Filter(words, "long_words", func(w string) bool { return len(w) > 3 })
	upper := Transform(long, "upper", strings.ToUpper)
	got := &collector[string]{}
	upper.SolderToFunc("sink", got.add)

	// When
	s.OutputWire().Forward(context.Background(), []string{"the", "quick", "brown", "fox"})

	// Then
	assert.Equal(t, []string{"QUICK", "BROWN"}, got.snapshot())
}
