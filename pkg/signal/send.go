package signal

import (
	"context"
	"reflect"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
	"github.com/nimbusframe/nimbus/pkg/identity"
)

// callerAttributes returns the caller_id/caller_type span attributes for
// the ambient identity carried on ctx, if any. Identity never gates
// dispatch; it only attributes it.
func callerAttributes(ctx context.Context) []attribute.KeyValue {
	id, ok := identity.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String("caller_id", id.ID()),
		attribute.String("caller_type", id.Type().String()),
	}
}

// typeDisplayName renders a reflect.Type for DispatchRecord/log fields
// without pulling in the full package path noise typeNameOf uses for
// module identity.
func typeDisplayName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// SendAgent dispatches value through the Agent's Signaler[T], returning
// the lazy asynchronous sequence of responses of type R: each item a
// processor yields is forwarded as soon as it is produced, and the
// channel closes once the chain is exhausted, an interceptor suppressed
// the remainder, or ctx is canceled. Items a processor yields whose
// dynamic type is not assignable to R are silently dropped.
//
// A signaler with zero processors yields value itself exactly once, but
// only when R and T are the same type — see Signaler.dispatch.
//
// SendAgent is the function ModuleSend and the package-level Send /
// SendAsync entry points below all forward to; it is exported so callers
// that already hold an *Agent (rather than a *Module façade) can invoke it
// directly.
func SendAgent[T, R any](ctx context.Context, a *Agent, value T) <-chan R {
	if state := a.State(); state == StateDisposed {
		err := sserr.InvalidStatef("cannot send signal %T to agent %q in state %s", value, a.name, state)
		a.logger.Error("send refused", "agent", a.name, "error", err)
		out := make(chan R)
		close(out)
		return out
	}

	s := getOrCreateSignaler[T](a)
	tType := reflect.TypeOf((*T)(nil)).Elem()
	rType := reflect.TypeOf((*R)(nil)).Elem()
	signalTypeName := typeDisplayName(tType)
	record := newDispatchRecord(signalTypeName, typeDisplayName(rType))
	a.publishDispatchRecord(record)

	attrs := append([]attribute.KeyValue{
		attribute.String("signal_type", signalTypeName),
		attribute.String("response_type", typeDisplayName(rType)),
	}, callerAttributes(ctx)...)
	ctx, span := a.tracer.Start(ctx, "Signaler.dispatch", trace.WithAttributes(attrs...))

	var panicked, suppressed int32
	ctx = context.WithValue(ctx, panicFlagKey{}, &panicked)
	ctx = context.WithValue(ctx, suppressFlagKey{}, &suppressed)

	// The processor snapshot is captured synchronously, so a processor whose
	// subscription completes after this call returns can never observe this
	// signal; the chain itself is walked lazily from the drain goroutine so
	// a synchronous processor never blocks the sender.
	entries := s.snapshot()
	out := make(chan R)
	go func() {
		defer close(out)
		defer span.End()
		raw := chain(ctx, entries, 0, value)
		count := 0
		status := DispatchStatusCompleted
		for {
			select {
			case v, ok := <-raw:
				if !ok {
					if atomic.LoadInt32(&panicked) != 0 {
						status = DispatchStatusFailed
						span.SetStatus(codes.Error, "a signal processor panicked during dispatch")
					} else if atomic.LoadInt32(&suppressed) != 0 {
						status = DispatchStatusSuppressed
					}
					span.SetAttributes(attribute.Int("response_count", count))
					a.publishDispatchRecord(record.finish(status, count))
					return
				}
				if casted, ok := v.(R); ok {
					select {
					case out <- casted:
						count++
					case <-ctx.Done():
						span.SetStatus(codes.Error, ctx.Err().Error())
						a.publishDispatchRecord(record.finish(DispatchStatusCancelled, count))
						return
					}
				}
			case <-ctx.Done():
				span.SetStatus(codes.Error, ctx.Err().Error())
				a.publishDispatchRecord(record.finish(DispatchStatusCancelled, count))
				return
			}
		}
	}()
	return out
}

// Send is the fire-and-forget entry point:
// it dispatches value through every processor of type T, discarding any
// responses, and drains the sequence on the caller's goroutine before
// returning. Use SendAgent directly when the responses themselves matter.
func Send[T any](ctx context.Context, a *Agent, value T) {
	ch := SendAgent[T, T](ctx, a, value)
	for range ch {
	}
}

// SendAsync is the asynchronous counterpart of Send: it returns
// immediately, draining the discarded response sequence on a background
// goroutine rather than the caller's.
func SendAsync[T any](ctx context.Context, a *Agent, value T) {
	ch := SendAgent[T, T](ctx, a, value)
	go func() {
		for range ch {
		}
	}()
}

// SendSync is the blocking variant of SendAgent:
// it drains the full response sequence on the
// caller's goroutine into a slice before returning, honoring ctx
// cancellation by returning whatever was collected so far alongside a
// Cancelled error.
func SendSync[T, R any](ctx context.Context, a *Agent, value T) ([]R, error) {
	if state := a.State(); state == StateDisposed {
		return nil, sserr.InvalidStatef("cannot send signal %T to agent %q in state %s", value, a.name, state)
	}
	ch := SendAgent[T, R](ctx, a, value)
	var out []R
	for v := range ch {
		out = append(out, v)
	}
	if err := ctx.Err(); err != nil {
		return out, sserr.Cancelledf("send of %T drained %d response(s) before cancellation: %v", value, len(out), err)
	}
	return out, nil
}

// SendAsyncCollecting is the asynchronous, response-collecting variant
// (`send_async<T,R>(value)`): it returns immediately with a channel that
// receives the fully drained slice exactly once before closing, so a
// caller who still wants every response but not a blocking call can
// select on it.
func SendAsyncCollecting[T, R any](ctx context.Context, a *Agent, value T) <-chan []R {
	out := make(chan []R, 1)
	go func() {
		defer close(out)
		collected, _ := SendSync[T, R](ctx, a, value)
		out <- collected
	}()
	return out
}

// ObserveAgent registers fn as a push-style observer of signal type T at
// the agent level, independent of any module — the entry point for
// external callers that want to watch a signal type without becoming a
// module themselves. The returned Subscription behaves exactly like the
// module façade's; since there is no owning module, the resulting
// processor never participates in a preferred order and always sorts
// among the unlisted processors, in subscription-insertion order.
func ObserveAgent[T any](a *Agent, fn func(v T)) *Subscription {
	sub := newSubscription()
	if state := a.State(); state == StateDisposing || state == StateDisposed {
		signalType := typeDisplayName(reflect.TypeOf((*T)(nil)).Elem())
		err := sserr.InvalidStatef("cannot observe signal %s on agent %q in state %s", signalType, a.name, state)
		a.logger.Error("observe refused", "agent", a.name, "error", err)
		return sub
	}
	s := getOrCreateSignaler[T](a)
	entry := newObserverEntry[T](nil, s.nextSeq(), a.logger, fn)
	handle := s.add(entry)
	sub.resolve(handle.Unsubscribe)
	return sub
}

// SetSignalProcessingOrder recomputes the preferred processor order for
// signal type T. Processors owned by a module listed here sort first, in
// the given order; every other processor follows in subscription order.
func SetSignalProcessingOrder[T any](a *Agent, modules []*Module) error {
	if state := a.State(); state == StateDisposing || state == StateDisposed {
		return sserr.InvalidStatef("cannot set signal processing order on agent %q in state %s", a.name, state)
	}
	s := getOrCreateSignaler[T](a)
	s.SetPreferredOrder(modules)
	return nil
}

// publishDispatchRecord is a package-private helper so SendAgent does not
// need to reach into Agent's dispatch feed field directly from outside
// agent.go.
func (a *Agent) publishDispatchRecord(r *DispatchRecord) {
	a.dispatch.Publish(r)
}
