package core

import "context"

// Transform derives a wire carrying fn applied to every item of w. fn runs inline on the
// producing goroutine.
func Transform[T, U any](w *OutputWire[T], name string, fn func(T) U) *OutputWire[U] {
	out := newOutputWire[U](w.model, name)
	w.model.recordTransformer(w.source, name)
	w.add(func(ctx context.Context, item T) {
		out.Forward(ctx, fn(item))
	})
	return out
}

// Filter derives a wire carrying only the items of w for which keep returns true.
func Filter[T any](w *OutputWire[T], name string, keep func(T) bool) *OutputWire[T] {
	out := newOutputWire[T](w.model, name)
	w.model.recordTransformer(w.source, name)
	w.add(func(ctx context.Context, item T) {
		if keep(item) {
			out.Forward(ctx, item)
		}
	})
	return out
}

// Split derives a wire carrying the elements of every slice on w, in order.
func Split[T any](w *OutputWire[[]T], name string) *OutputWire[T] {
	out := newOutputWire[T](w.model, name)
	w.model.recordTransformer(w.source, name)
	w.add(func(ctx context.Context, items []T) {
		for _, item := range items {
			out.Forward(ctx, item)
		}
	})
	return out
}
