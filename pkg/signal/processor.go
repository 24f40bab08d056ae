package signal

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// ProcessorKind identifies which of the six processor variants a procEntry
// wraps. It exists purely for introspection and logging; dispatch behavior
// is carried entirely in the entry's run closure.
type ProcessorKind int

const (
	// KindObserver wraps a push-style observer with no return value.
	KindObserver ProcessorKind = iota
	// KindReceiverVoid is a synchronous receiver that returns nothing.
	KindReceiverVoid
	// KindReceiverReturning is a synchronous receiver that returns a value.
	KindReceiverReturning
	// KindAsyncReceiverVoid is an asynchronous receiver with no return value.
	KindAsyncReceiverVoid
	// KindAsyncReceiverReturning is an asynchronous receiver returning a value.
	KindAsyncReceiverReturning
	// KindInterceptor controls whether and with what value the chain continues.
	KindInterceptor
)

func (k ProcessorKind) String() string {
	switch k {
	case KindObserver:
		return "Observer"
	case KindReceiverVoid:
		return "ReceiverVoid"
	case KindReceiverReturning:
		return "ReceiverReturning"
	case KindAsyncReceiverVoid:
		return "AsyncReceiverVoid"
	case KindAsyncReceiverReturning:
		return "AsyncReceiverReturning"
	case KindInterceptor:
		return "Interceptor"
	default:
		return "Unknown"
	}
}

// nextFunc is the continuation a procEntry invokes to run the remainder of
// the chain. Downstream items arrive erased to `any`; the outer
// SendAgent[T,R] performs the final type assertion against the caller's R.
type nextFunc[T any] func(ctx context.Context, v T) <-chan any

// procEntry is one element of a Signaler's processor chain. Each entry
// carries an optional owning-module back-reference (used for preferred
// ordering and bulk removal on module disposal) and a monotonic insertion
// sequence number that breaks ties among processors absent from the
// preferred order.
type procEntry[T any] struct {
	module *Module
	kind   ProcessorKind
	seq    uint64
	logger *slog.Logger

	run func(ctx context.Context, v T, next nextFunc[T]) <-chan any
}

// panicFlagKey is the context key under which SendAgent stashes a shared
// flag so a panic recovered several layers down inside a processor can
// still mark the DispatchRecord it belongs to as failed.
type panicFlagKey struct{}

// markPanicked flips the dispatch's shared panic flag, if the context
// carries one. Contexts not created by SendAgent (e.g. in unit tests that
// call a procEntry's run closure directly) simply have no flag to flip.
func markPanicked(ctx context.Context) {
	if flag, ok := ctx.Value(panicFlagKey{}).(*int32); ok {
		atomic.StoreInt32(flag, 1)
	}
}

// suppressFlagKey carries the flag an interceptor flips when its sequence
// ends without the continuation ever being invoked, so the dispatch's
// record can report Suppressed instead of Completed.
type suppressFlagKey struct{}

func markSuppressed(ctx context.Context) {
	if flag, ok := ctx.Value(suppressFlagKey{}).(*int32); ok {
		atomic.StoreInt32(flag, 1)
	}
}

func recoverAndLog(ctx context.Context, logger *slog.Logger, kind ProcessorKind, module *Module) {
	if r := recover(); r != nil {
		name := "<unowned>"
		if module != nil {
			name = module.TypeName()
		}
		logger.Error("signal processor panicked",
			"kind", kind.String(),
			"module", name,
			"panic", r,
		)
		markPanicked(ctx)
	}
}

// newObserverEntry wraps a push-style observer: it is called with the
// value, any panic is recovered and logged, and the chain always
// continues with the original value.
func newObserverEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(v T)) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindObserver, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			func() {
				defer recoverAndLog(ctx, logger, KindObserver, module)
				fn(v)
			}()
			return next(ctx, v)
		},
	}
}

// newReceiverVoidEntry wraps a synchronous receiver with no return value.
func newReceiverVoidEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(v T)) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindReceiverVoid, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			func() {
				defer recoverAndLog(ctx, logger, KindReceiverVoid, module)
				fn(v)
			}()
			return next(ctx, v)
		},
	}
}

// newReceiverReturningEntry wraps a synchronous receiver that yields a
// single response, then concatenates the remainder of the chain.
func newReceiverReturningEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(v T) any) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindReceiverReturning, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			out := make(chan any)
			go func() {
				defer close(out)
				result, ok := safeInvokeReturning(ctx, logger, KindReceiverReturning, module, func() any { return fn(v) })
				if ok {
					if !forward(ctx, out, result) {
						return
					}
				}
				drain(ctx, out, next(ctx, v))
			}()
			return out
		},
	}
}

// newAsyncReceiverVoidEntry wraps an asynchronous receiver with no return
// value. The function is called synchronously from within the dispatch
// goroutine; since Go has no async/await, a blocking call already
// guarantees the receiver finishes before any downstream item is
// produced.
func newAsyncReceiverVoidEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(ctx context.Context, v T)) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindAsyncReceiverVoid, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			func() {
				defer recoverAndLog(ctx, logger, KindAsyncReceiverVoid, module)
				fn(ctx, v)
			}()
			return next(ctx, v)
		},
	}
}

// newAsyncReceiverReturningEntry wraps an asynchronous receiver that
// yields a single response before the remainder of the chain runs.
func newAsyncReceiverReturningEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(ctx context.Context, v T) any) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindAsyncReceiverReturning, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			out := make(chan any)
			go func() {
				defer close(out)
				result, ok := safeInvokeReturning(ctx, logger, KindAsyncReceiverReturning, module, func() any { return fn(ctx, v) })
				if ok {
					if !forward(ctx, out, result) {
						return
					}
				}
				drain(ctx, out, next(ctx, v))
			}()
			return out
		},
	}
}

// newInterceptorEntry wraps an interceptor: the controlling primitive of
// the pipeline. It receives a SignalContext carrying the value and the
// continuation, and returns the sequence of responses it wants to
// contribute. Not calling Next suppresses every downstream processor.
func newInterceptorEntry[T any](module *Module, seq uint64, logger *slog.Logger, fn func(ctx context.Context, sc *SignalContext[T]) <-chan any) *procEntry[T] {
	return &procEntry[T]{
		module: module, kind: KindInterceptor, seq: seq, logger: logger,
		run: func(ctx context.Context, v T, next nextFunc[T]) <-chan any {
			out := make(chan any)
			go func() {
				defer close(out)
				defer recoverAndLog(ctx, logger, KindInterceptor, module)
				var continued int32
				wrapped := func(ctx context.Context, v2 T) <-chan any {
					atomic.StoreInt32(&continued, 1)
					return next(ctx, v2)
				}
				sc := &SignalContext[T]{Value: v, ctx: ctx, next: wrapped}
				seq := fn(ctx, sc)
				if seq != nil {
					drain(ctx, out, seq)
				}
				if atomic.LoadInt32(&continued) == 0 {
					markSuppressed(ctx)
				}
			}()
			return out
		},
	}
}

// safeInvokeReturning calls fn, recovering and logging any panic. ok is
// false when fn panicked, in which case result must not be used.
func safeInvokeReturning(ctx context.Context, logger *slog.Logger, kind ProcessorKind, module *Module, fn func() any) (result any, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			name := "<unowned>"
			if module != nil {
				name = module.TypeName()
			}
			logger.Error("signal processor panicked",
				"kind", kind.String(),
				"module", name,
				"panic", r,
			)
			markPanicked(ctx)
			ok = false
		}
	}()
	return fn(), true
}

// forward sends v on out, honoring ctx cancellation. Returns false if the
// context was canceled before the send completed.
func forward(ctx context.Context, out chan<- any, v any) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain copies every item from in to out until in closes or ctx is
// canceled.
func drain(ctx context.Context, out chan<- any, in <-chan any) {
	for {
		select {
		case v, ok := <-in:
			if !ok {
				return
			}
			if !forward(ctx, out, v) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
