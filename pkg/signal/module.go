package signal

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
)

// Initializer is implemented by module types that need to run setup logic
// when the owning Agent transitions into Initializing. Implementing it is
// optional; a module with no Initialize method simply has nothing to run.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Disposer is implemented by module types that need to release resources
// when removed from their agent. Returning an error wraps it into the
// batch's aggregate; returning an [CodeInvalidState]-flavored error built
// with errors.InvalidState signals a veto of the module's own removal —
// see Agent.Remove.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// Runner is implemented by module types with a long-lived loop the run
// supervisor should keep alive while the agent is running. A module
// without a RunLoop method contributes no task to Agent.Run.
type Runner interface {
	RunLoop(ctx context.Context) error
}

// Subscription is the handle returned by the module façade's Receive,
// Observe, and Intercept helpers. If the owning module had no agent yet
// when the subscription was requested, the subscription is buffered; the
// handle becomes "real" once the module is inserted into an agent, and
// disposing it beforehand still cancels the eventual real subscription.
type Subscription struct {
	mu        sync.Mutex
	real      func()
	cancelled bool
}

func newSubscription() *Subscription {
	return &Subscription{}
}

// Unsubscribe removes the underlying processor from its signaler. Safe to
// call before the module has an agent (the eventual real subscription is
// removed again as soon as it is installed) and safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.real != nil {
		s.real()
		s.real = nil
		return
	}
	s.cancelled = true
}

func (s *Subscription) resolve(real func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		real()
		return
	}
	s.real = real
}

// unsubscriber is the minimal interface a type-erased *subscription[T]
// satisfies regardless of T, letting Module track heterogeneous
// subscriptions in one slice.
type unsubscriber interface {
	Unsubscribe()
}

// moduleAccessor is implemented by *Module itself and promoted to every
// concrete module type that embeds signal.Module by value, letting
// framework code recover the embedded *Module from an `any` holding a
// concrete module pointer without reflection.
type moduleAccessor interface {
	moduleBase() *Module
}

func (m *Module) moduleBase() *Module { return m }

// baseOf recovers the embedded *Module from a concrete module instance.
// ok is false if v does not embed signal.Module.
func baseOf(v any) (*Module, bool) {
	a, ok := v.(moduleAccessor)
	if !ok {
		return nil, false
	}
	return a.moduleBase(), true
}

// Module is the base every framework module embeds. It holds the
// back-reference to the owning Agent (absent before insertion or after
// removal), the cached type display name, the set of raw subscriptions
// made through the façade (for back-removal), and the deferred-
// subscription buffer used when a module subscribes from its own
// constructor, before it has been assigned an agent.
//
// A Module belongs to at most one agent at any time; once removed, it
// cannot be reinserted into any agent (checkInsertable rejects a module
// whose removed flag is set).
type Module struct {
	mu sync.Mutex

	agent    *Agent
	self     any // the concrete module value, set once during insertion
	typeName string

	subscriptions []unsubscriber
	deferred      []func()
	removed       bool
}

// TypeName returns the cached display name of the module's concrete type,
// used in logging and error messages.
func (m *Module) TypeName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typeName
}

// Agent returns the module's owning agent, or nil if the module has not
// yet been inserted into one or has since been removed. Callers must
// check for nil before using the result; the back-reference carries no
// lifetime guarantee beyond "was true at the moment of this call."
func (m *Module) Agent() *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent
}

// checkInsertable rejects reuse of a module instance that already belongs
// to an agent or has been removed from one. A removed module is terminal
// and cannot be reinserted anywhere.
func (m *Module) checkInsertable() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return sserr.InvalidStatef("module %s was removed and cannot be reinserted", m.typeName)
	}
	if m.agent != nil {
		return sserr.InvalidStatef("module %s already belongs to agent %q", m.typeName, m.agent.name)
	}
	return nil
}

// bindAgent assigns the owning agent and drains any subscriptions made
// before the module was inserted anywhere. It is called exactly once, by
// Agent.Add, immediately after the module is appended to the agent's
// module sequence.
func (m *Module) bindAgent(a *Agent, self any) {
	m.mu.Lock()
	m.agent = a
	m.self = self
	m.typeName = typeNameOf(self)
	pending := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, action := range pending {
		action()
	}
}

// unbindAgent clears the back-reference and cancels every tracked
// subscription. Called by Agent.Remove once a module has been
// successfully disposed.
func (m *Module) unbindAgent() {
	m.mu.Lock()
	m.agent = nil
	m.removed = true
	subs := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// subscribeOrDefer runs action immediately if the module already has an
// agent, or buffers it for bindAgent to run later otherwise.
func (m *Module) subscribeOrDefer(action func()) {
	m.mu.Lock()
	if m.agent != nil {
		m.mu.Unlock()
		action()
		return
	}
	m.deferred = append(m.deferred, action)
	m.mu.Unlock()
}

func (m *Module) track(sub unsubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, sub)
}

func typeNameOf(v any) string {
	if v == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

// --- Module façade: package-level generic functions ---------------------
//
// Go methods cannot introduce new type parameters, so the module façade
// (Receive, ReceiveReturning, …) is implemented as
// package-level generic functions taking *Module as their first argument,
// mirroring Send/SendAsync at the agent level.

// Observe subscribes fn as a push-style observer of signal type T. Any
// panic inside fn is recovered and logged; the chain always continues.
func Observe[T any](m *Module, fn func(v T)) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		entry := newObserverEntry[T](m, s.nextSeq(), m.agent.logger, fn)
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// Receive subscribes fn as a synchronous receiver of signal type T that
// yields no response of its own; the chain continues with the original
// value after fn returns.
func Receive[T any](m *Module, fn func(v T)) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		entry := newReceiverVoidEntry[T](m, s.nextSeq(), m.agent.logger, fn)
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// ReceiveReturning subscribes fn as a synchronous receiver of signal type
// T that yields a single response of type R before the remainder of the
// chain runs.
func ReceiveReturning[T, R any](m *Module, fn func(v T) R) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		entry := newReceiverReturningEntry[T](m, s.nextSeq(), m.agent.logger, func(v T) any { return fn(v) })
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// ReceiveAsync subscribes fn as an asynchronous receiver of signal type T
// with no response of its own. fn is called with the dispatch context.
func ReceiveAsync[T any](m *Module, fn func(ctx context.Context, v T)) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		entry := newAsyncReceiverVoidEntry[T](m, s.nextSeq(), m.agent.logger, fn)
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// ReceiveReturningAsync subscribes fn as an asynchronous receiver of
// signal type T that yields a single response of type R.
func ReceiveReturningAsync[T, R any](m *Module, fn func(ctx context.Context, v T) R) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		entry := newAsyncReceiverReturningEntry[T](m, s.nextSeq(), m.agent.logger, func(ctx context.Context, v T) any { return fn(ctx, v) })
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// InterceptAsync subscribes fn as an interceptor of signal type T yielding
// responses of type R. fn controls whether and with what value the chain
// continues via the SignalContext it receives; not calling Next suppresses
// every downstream processor.
func InterceptAsync[T, R any](m *Module, fn func(ctx context.Context, sc *SignalContext[T]) <-chan R) *Subscription {
	sub := newSubscription()
	m.subscribeOrDefer(func() {
		s := getOrCreateSignaler[T](m.agent)
		erased := func(ctx context.Context, sc *SignalContext[T]) <-chan any {
			typed := fn(ctx, sc)
			out := make(chan any)
			go func() {
				defer close(out)
				for {
					select {
					case v, ok := <-typed:
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
			}()
			return out
		}
		entry := newInterceptorEntry[T](m, s.nextSeq(), m.agent.logger, erased)
		handle := s.add(entry)
		m.track(handle)
		sub.resolve(handle.Unsubscribe)
	})
	return sub
}

// GetModuleOrDefault returns the first module on m's agent assignable to
// T, or the zero value and false if none exists or m has no agent.
func GetModuleOrDefault[T any](m *Module) (T, bool) {
	var zero T
	a := m.Agent()
	if a == nil {
		return zero, false
	}
	return Get[T](a)
}

// ModuleSend forwards to SendAgent using m's owning agent; it is a
// convenience for module authors who want to dispatch a signal from
// within their own receiver or interceptor without importing the agent
// handle themselves. Returns an already-closed channel if m has no agent.
func ModuleSend[T, R any](ctx context.Context, m *Module, value T) <-chan R {
	a := m.Agent()
	if a == nil {
		out := make(chan R)
		close(out)
		return out
	}
	return SendAgent[T, R](ctx, a, value)
}
