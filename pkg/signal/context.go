package signal

import "context"

// SignalContext is the argument handed to an interceptor. It carries the
// current signal value and a continuation that invokes the remainder of
// the processor chain. Calling Next (or NextWith) zero, one, or many
// times is the suppression/replay primitive described by the pipeline:
// not calling it suppresses every downstream processor; calling it more
// than once concatenates the resulting sequences.
type SignalContext[T any] struct {
	// Value is the signal value as it arrived at this step of the chain.
	Value T

	ctx  context.Context
	next func(ctx context.Context, v T) <-chan any
}

// Next invokes the continuation with the original Value, returning the
// sequence the remainder of the chain produces. Items are delivered as
// `any`; the outer SendAgent[T,R] call performs the final type assertion
// against R once all interceptors have had their say.
func (sc *SignalContext[T]) Next() <-chan any {
	return sc.next(sc.ctx, sc.Value)
}

// NextWith invokes the continuation with a replacement value, allowing an
// interceptor to transform the signal before the rest of the chain
// observes it.
func (sc *SignalContext[T]) NextWith(v T) <-chan any {
	return sc.next(sc.ctx, v)
}

// Context returns the context the dispatch was invoked with, so an
// interceptor can honor cancellation while doing its own work before
// deciding whether to call Next.
func (sc *SignalContext[T]) Context() context.Context {
	return sc.ctx
}
