package signal

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
)

const agentTracerName = "github.com/nimbusframe/nimbus/pkg/signal"

type moduleEntry struct {
	typ      reflect.Type
	instance any
	base     *Module
}

// AgentInfo is a serialization-free snapshot of an agent's identity and
// lifecycle position, complementing the discrete State/Modules accessors.
type AgentInfo struct {
	ID          string
	Name        string
	Description string
	State       State
	ModuleCount int
	Uptime      time.Duration
}

// Agent is the lifecycle-managed container that owns a sequence of
// Modules and a family of per-signal-type Signalers. The module sequence
// preserves insertion order; every owned module's back-reference points
// here until the module is removed.
type Agent struct {
	id          string
	name        string
	description string

	serviceProvider ServiceProvider
	logger          *slog.Logger
	tracer          trace.Tracer
	stateHandlers   []StateChangeHandler

	stateMu  sync.Mutex
	state    *stateBroadcast
	initAt   time.Time
	initErr  error
	initDone chan struct{}
	initOnce sync.Once

	// initMu and disposeMu make Initialize and Dispose single-flight: a
	// concurrent second call blocks until the in-flight one finishes,
	// then observes the already-reached state and takes the idempotent
	// no-op path instead of re-running the module loop.
	initMu    sync.Mutex
	disposeMu sync.Mutex

	modulesMu sync.Mutex
	modules   []*moduleEntry
	byType    map[reflect.Type][]*moduleEntry

	// requiredBy maps a required module's type to the set of module
	// types that declared it as a dependency; consulted during removal
	// to find direct dependents.
	requiredBy map[reflect.Type]map[reflect.Type]struct{}

	signalersMu sync.Mutex
	signalers   map[reflect.Type]any // *Signaler[T], erased

	preferredMu sync.Mutex
	preferred   map[reflect.Type][]*Module

	dispatch *dispatchFeed

	sup   *supervisor
	supMu sync.Mutex
}

// AgentBuilder constructs an Agent via a fluent builder.
type AgentBuilder struct {
	name            string
	description     string
	serviceProvider ServiceProvider
	logger          *slog.Logger
	stateHandlers   []StateChangeHandler
}

// NewAgentBuilder starts building an agent with the given name and
// description. Both are required; Build fails validation if name is empty.
func NewAgentBuilder(name, description string) *AgentBuilder {
	return &AgentBuilder{name: name, description: description}
}

// WithServiceProvider attaches the external dependency-resolution
// capability used to satisfy DepService dependencies during module
// insertion.
func (b *AgentBuilder) WithServiceProvider(sp ServiceProvider) *AgentBuilder {
	b.serviceProvider = sp
	return b
}

// WithLogger overrides the agent's structured logger; defaults to
// slog.Default() when unset.
func (b *AgentBuilder) WithLogger(logger *slog.Logger) *AgentBuilder {
	b.logger = logger
	return b
}

// OnStateChange registers a handler invoked synchronously on every
// lifecycle transition. May be called multiple times; handlers run in
// registration order.
func (b *AgentBuilder) OnStateChange(handler StateChangeHandler) *AgentBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the accumulated configuration and constructs the Agent
// in StateUninitialized.
func (b *AgentBuilder) Build() (*Agent, error) {
	if b.name == "" {
		return nil, sserr.InvalidState("agent name must not be empty")
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		id:              uuid.NewString(),
		name:            b.name,
		description:     b.description,
		serviceProvider: b.serviceProvider,
		logger:          logger,
		stateHandlers:   b.stateHandlers,
		tracer:          otel.Tracer(agentTracerName),
		state:           newStateBroadcast(StateUninitialized),
		initDone:        make(chan struct{}),
		byType:          make(map[reflect.Type][]*moduleEntry),
		requiredBy:      make(map[reflect.Type]map[reflect.Type]struct{}),
		signalers:       make(map[reflect.Type]any),
		preferred:       make(map[reflect.Type][]*Module),
		dispatch:        newDispatchFeed(),
	}, nil
}

// DispatchRecords returns a channel that receives a [DispatchRecord] every
// time a Send/SendAgent call transitions status (start and terminal
// outcome), plus an unsubscribe function.
func (a *Agent) DispatchRecords() (<-chan *DispatchRecord, func()) {
	return a.dispatch.Subscribe()
}

// Name, Description, and ID are immutable accessors.
func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }
func (a *Agent) ID() string          { return a.id }

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	return a.state.Current()
}

// StateObservable returns a channel that immediately yields the current
// state, then every subsequent transition, plus an unsubscribe function.
func (a *Agent) StateObservable() (<-chan State, func()) {
	return a.state.Subscribe()
}

// Info returns a point-in-time snapshot of the agent's identity and
// lifecycle position.
func (a *Agent) Info() AgentInfo {
	a.modulesMu.Lock()
	count := len(a.modules)
	a.modulesMu.Unlock()

	var uptime time.Duration
	a.stateMu.Lock()
	if !a.initAt.IsZero() {
		uptime = time.Since(a.initAt)
	}
	a.stateMu.Unlock()

	return AgentInfo{
		ID:          a.id,
		Name:        a.name,
		Description: a.description,
		State:       a.State(),
		ModuleCount: count,
		Uptime:      uptime,
	}
}

// Health returns nil only while the agent is Initialized.
func (a *Agent) Health(ctx context.Context) error {
	if s := a.State(); s != StateInitialized {
		return sserr.InvalidStatef("agent %q is not healthy in state %s", a.name, s)
	}
	return nil
}

// Modules returns a read-only snapshot of the module sequence in
// insertion order.
func (a *Agent) Modules() []any {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	out := make([]any, len(a.modules))
	for i, e := range a.modules {
		out[i] = e.instance
	}
	return out
}

func (a *Agent) transition(to State) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	from := a.state.Current()
	if from == to {
		return nil
	}
	if !ValidTransition(from, to) {
		return sserr.InvalidStatef("cannot transition agent %q from %s to %s", a.name, from, to)
	}
	a.state.Set(to)
	a.logger.Info("agent state transition", "agent", a.name, "from", from.String(), "to", to.String())
	for _, h := range a.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("state change handler panicked", "agent", a.name, "panic", r)
				}
			}()
			h(from, to)
		}()
	}
	if to == StateInitialized {
		a.initAt = time.Now()
	}
	return nil
}

func (a *Agent) firstByExactType(t reflect.Type) (any, bool) {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	entries := a.byType[t]
	if len(entries) == 0 {
		return nil, false
	}
	return entries[0].instance, true
}

func (a *Agent) firstAssignable(iface reflect.Type) (any, bool) {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	for _, e := range a.modules {
		if iface.Kind() == reflect.Interface {
			// Instances are stored as pointers, so a pointer-receiver
			// method set satisfies the interface even though the bare
			// struct type e.typ does not.
			if e.typ.Implements(iface) || reflect.PointerTo(e.typ).Implements(iface) {
				return e.instance, true
			}
			continue
		}
		if e.typ.AssignableTo(iface) {
			return e.instance, true
		}
	}
	return nil, false
}

func (a *Agent) addRequiredByEdge(requiredType, dependentType reflect.Type) {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	set, ok := a.requiredBy[requiredType]
	if !ok {
		set = make(map[reflect.Type]struct{})
		a.requiredBy[requiredType] = set
	}
	set[dependentType] = struct{}{}
}

// directDependents returns the set of module types that declared t as a
// required dependency.
func (a *Agent) directDependents(t reflect.Type) map[reflect.Type]struct{} {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	out := make(map[reflect.Type]struct{}, len(a.requiredBy[t]))
	for dep := range a.requiredBy[t] {
		out[dep] = struct{}{}
	}
	return out
}

// addByType performs the full insertion sequence for an arbitrary
// registered type, used both by the generic Add/GetOrAdd entry points and
// by DepModule resolution recursing into a dependency's own insertion.
func (a *Agent) addByType(ctx context.Context, t reflect.Type, factory func(*Agent) (any, error), configure func(any)) (any, error) {
	if s := a.State(); s == StateDisposing || s == StateDisposed {
		return nil, sserr.InvalidStatef("cannot add module %s while agent is %s", t, s)
	}

	desc, hasDesc := lookupDescriptor(t)
	if hasDesc && desc.Singleton {
		if existing, ok := a.firstByExactType(t); ok {
			if configure != nil {
				configure(existing)
			}
			return existing, nil
		}
	}

	a.modulesMu.Lock()
	snapshot := append([]*moduleEntry(nil), a.modules...)
	a.modulesMu.Unlock()

	instance, err := a.instantiate(ctx, t, factory, desc, hasDesc)
	if err != nil {
		a.rollbackTo(snapshot)
		return nil, sserr.ModuleInsertFailedf(err, "failed to construct module %s", t)
	}

	base, ok := baseOf(instance)
	if !ok {
		a.rollbackTo(snapshot)
		return nil, sserr.ModuleInsertFailedf(sserr.InvalidStatef("module %s does not embed signal.Module", t), "invalid module type")
	}
	if err := base.checkInsertable(); err != nil {
		a.rollbackTo(snapshot)
		return nil, sserr.ModuleInsertFailedf(err, "module %s cannot be inserted", t)
	}

	entry := &moduleEntry{typ: t, instance: instance, base: base}
	a.modulesMu.Lock()
	a.modules = append(a.modules, entry)
	a.byType[t] = append(a.byType[t], entry)
	a.modulesMu.Unlock()
	base.bindAgent(a, instance)

	if hasDesc {
		if err := a.applyRequiredMembers(ctx, t, instance, desc); err != nil {
			a.rollbackTo(snapshot)
			return nil, sserr.ModuleInsertFailedf(err, "failed to resolve required members for %s", t)
		}
	}

	if configure != nil {
		configure(instance)
	}

	if s := a.State(); s == StateInitializing || s == StateInitialized {
		go func() {
			if init, ok := instance.(Initializer); ok {
				if err := init.Initialize(ctx); err != nil {
					a.logger.Error("late module initialization failed", "module", t.String(), "error", err)
				}
			}
			a.notifyMembershipChanged()
		}()
	}

	return instance, nil
}

func (a *Agent) instantiate(ctx context.Context, t reflect.Type, factory func(*Agent) (any, error), desc *Descriptor, hasDesc bool) (any, error) {
	if factory != nil {
		return factory(a)
	}
	if !hasDesc {
		return nil, sserr.NotFoundf("no constructor or registered descriptor for module type %s", t)
	}

	resolved := make([]any, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		v, satisfiedBy, err := resolveDependency(ctx, a, t, dep)
		if err != nil {
			return nil, err
		}
		resolved[i] = v
		if satisfiedBy != nil {
			a.addRequiredByEdge(satisfiedBy, t)
		}
	}
	return desc.Construct(a, resolved)
}

func (a *Agent) applyRequiredMembers(ctx context.Context, t reflect.Type, instance any, desc *Descriptor) error {
	for _, rm := range desc.RequiredMembers {
		dep := Dependency{Type: rm.Type}
		if rm.Assignable {
			dep.Kind = DepModuleAssignable
		} else {
			dep.Kind = DepModule
		}
		v, satisfiedBy, err := resolveDependency(ctx, a, t, dep)
		if err != nil {
			return err
		}
		rm.Set(instance, v)
		if satisfiedBy != nil {
			a.addRequiredByEdge(satisfiedBy, t)
		}
	}
	return nil
}

// rollbackTo removes every module appended after the given pre-call
// snapshot, restoring the sequence a failed insert started from.
func (a *Agent) rollbackTo(snapshot []*moduleEntry) {
	a.modulesMu.Lock()
	keep := make(map[*moduleEntry]bool, len(snapshot))
	for _, e := range snapshot {
		keep[e] = true
	}
	var toRemove []*moduleEntry
	var kept []*moduleEntry
	for _, e := range a.modules {
		if keep[e] {
			kept = append(kept, e)
		} else {
			toRemove = append(toRemove, e)
		}
	}
	a.modules = kept
	for t, entries := range a.byType {
		var next []*moduleEntry
		for _, e := range entries {
			if keep[e] {
				next = append(next, e)
			}
		}
		if len(next) == 0 {
			delete(a.byType, t)
		} else {
			a.byType[t] = next
		}
	}
	a.modulesMu.Unlock()

	for _, e := range toRemove {
		a.detachModule(e)
	}
}

func (a *Agent) detachModule(e *moduleEntry) {
	e.base.unbindAgent()
	a.forEachSignaler(func(se signalerEraser) { se.removeModule(e.base) })
}

type signalerEraser interface {
	removeModule(m *Module)
}

func (a *Agent) forEachSignaler(fn func(signalerEraser)) {
	a.signalersMu.Lock()
	snapshot := make([]any, 0, len(a.signalers))
	for _, s := range a.signalers {
		snapshot = append(snapshot, s)
	}
	a.signalersMu.Unlock()
	for _, s := range snapshot {
		if se, ok := s.(signalerEraser); ok {
			fn(se)
		}
	}
}

// getOrCreateSignaler returns the Signaler[T] for T, creating it on first
// touch. It is a package-level generic function (Agent methods cannot
// introduce new type parameters).
func getOrCreateSignaler[T any](a *Agent) *Signaler[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	a.signalersMu.Lock()
	defer a.signalersMu.Unlock()
	if existing, ok := a.signalers[t]; ok {
		return existing.(*Signaler[T])
	}
	s := newSignaler[T](a.logger)
	a.signalers[t] = s
	return s
}

// Add inserts a module of type T, resolving its constructor dependencies
// from T's registered Descriptor. configure, if non-nil, runs on the
// instance after insertion (or on the existing instance, for a singleton
// re-Add).
func Add[T any](ctx context.Context, a *Agent, configure func(*T)) (*T, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	var cfg func(any)
	if configure != nil {
		cfg = func(v any) { configure(v.(*T)) }
	}
	v, err := a.addByType(ctx, t, nil, cfg)
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// AddWithFactory inserts a module of type T built by factory instead of
// the type's registered Descriptor.
func AddWithFactory[T any](ctx context.Context, a *Agent, factory func(*Agent) (*T, error)) (*T, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	wrapped := func(agent *Agent) (any, error) { return factory(agent) }
	v, err := a.addByType(ctx, t, wrapped, nil)
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// GetOrAdd returns the first existing module assignable to T, or inserts
// one via its registered Descriptor if none exists yet. T follows Get's
// convention: a concrete module pointer type or an interface implemented
// by one. An interface T with no assignable module fails the insert
// (interfaces carry no Descriptor to construct from).
func GetOrAdd[T any](ctx context.Context, a *Agent, configure func(T)) (T, error) {
	if v, ok := Get[T](a); ok {
		if configure != nil {
			configure(v)
		}
		return v, nil
	}

	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	var cfg func(any)
	if configure != nil {
		cfg = func(v any) { configure(v.(T)) }
	}
	v, err := a.addByType(ctx, t, nil, cfg)
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// Get returns the first module assignable to T, or false if none exists.
// T may be a concrete module pointer type or an interface implemented by
// one.
func Get[T any](a *Agent) (T, bool) {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	for _, e := range a.modules {
		if v, ok := e.instance.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// GetOrDefault is an alias of Get; Get already reports absence through
// its ok result rather than an error.
func GetOrDefault[T any](a *Agent) (T, bool) { return Get[T](a) }

// GetModules returns every module assignable to T, in insertion order.
func GetModules[T any](a *Agent) []T {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	var out []T
	for _, e := range a.modules {
		if v, ok := e.instance.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Remove removes every module assignable to T. See RemoveModules for the
// full batch-removal semantics and return value.
func Remove[T any](ctx context.Context, a *Agent) (bool, error) {
	targets := GetModules[T](a)
	if len(targets) == 0 {
		return false, nil
	}
	bases := make([]*Module, 0, len(targets))
	for _, t := range targets {
		if b, ok := baseOf(t); ok {
			bases = append(bases, b)
		}
	}
	return a.RemoveModules(ctx, bases)
}

// RemoveModules removes the given set of modules: direct dependents
// outside the batch refuse the whole batch; a dispose veto
// (InvalidState raised by Dispose) cascades to every transitive requirer
// within the batch; all other dispose errors are aggregated and returned
// wrapped in ModuleDisposeFailed after the pass completes.
func (a *Agent) RemoveModules(ctx context.Context, modules []*Module) (bool, error) {
	if s := a.State(); s == StateInitializing {
		return false, sserr.InvalidState("cannot remove modules while agent is Initializing")
	}
	if s := a.State(); s == StateDisposing || s == StateDisposed {
		return false, nil
	}
	if len(modules) == 0 {
		return false, nil
	}

	set := make(map[*Module]bool, len(modules))
	entryOf := make(map[*Module]*moduleEntry, len(modules))
	a.modulesMu.Lock()
	for _, e := range a.modules {
		for _, m := range modules {
			if e.base == m {
				set[m] = true
				entryOf[m] = e
			}
		}
	}
	a.modulesMu.Unlock()

	for m := range set {
		e := entryOf[m]
		for depType := range a.directDependents(e.typ) {
			dependentInBatch := false
			for other, oe := range entryOf {
				_ = other
				if oe.typ == depType {
					dependentInBatch = true
				}
			}
			if !dependentInBatch {
				a.logger.Warn("module removal refused: external dependent exists", "module", e.typ.String(), "dependent_type", depType.String())
				return false, nil
			}
		}
	}

	order := a.topoSortForRemoval(entryOf)

	vetoed := make(map[*Module]bool)
	var failures []sserr.ModuleFailure
	removedAny := false

	for _, m := range order {
		if vetoed[m] {
			continue
		}
		e := entryOf[m]
		if disposer, ok := e.instance.(Disposer); ok {
			if err := disposer.Dispose(ctx); err != nil {
				if sserr.IsInvalidState(err) {
					a.logger.Warn("module removal vetoed", "module", e.typ.String(), "cause", err)
					vetoed[m] = true
					a.cascadeVeto(m, entryOf, vetoed)
					continue
				}
				failures = append(failures, sserr.ModuleFailure{ModuleType: e.typ.String(), Err: err})
				continue
			}
		}
		a.detachModule(e)
		a.removeEntry(e)
		removedAny = true
	}

	a.notifyMembershipChanged()

	if len(failures) > 0 {
		return removedAny, sserr.ModuleDisposeFailed(&sserr.AggregateError{Failures: failures})
	}
	return removedAny, nil
}

// cascadeVeto marks every transitive requirer of a vetoed module, within
// the batch, as vetoed too.
func (a *Agent) cascadeVeto(vetoedModule *Module, entryOf map[*Module]*moduleEntry, vetoed map[*Module]bool) {
	vetoedEntry := entryOf[vetoedModule]
	for dependentType := range a.directDependents(vetoedEntry.typ) {
		for m, e := range entryOf {
			if e.typ == dependentType && !vetoed[m] {
				vetoed[m] = true
				a.cascadeVeto(m, entryOf, vetoed)
			}
		}
	}
}

// topoSortForRemoval orders the batch so a required module is disposed
// before the modules that require it: a dispose veto then cascades to
// every transitive requirer still later in the sort, leaving the whole
// dependency chain intact instead of half-removed.
func (a *Agent) topoSortForRemoval(entryOf map[*Module]*moduleEntry) []*Module {
	depthOf := func(m *Module) int {
		depth := 0
		seen := map[reflect.Type]bool{}
		var walk func(t reflect.Type, d int)
		walk = func(t reflect.Type, d int) {
			if seen[t] {
				return
			}
			seen[t] = true
			if d > depth {
				depth = d
			}
			for dependentType := range a.directDependents(t) {
				for _, e := range entryOf {
					if e.typ == dependentType {
						walk(dependentType, d+1)
					}
				}
			}
		}
		walk(entryOf[m].typ, 0)
		return depth
	}

	order := make([]*Module, 0, len(entryOf))
	for m := range entryOf {
		order = append(order, m)
	}
	// Higher depth (more things depend on it, transitively) disposed first.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && depthOf(order[j]) > depthOf(order[j-1]); j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	return order
}

func (a *Agent) removeEntry(e *moduleEntry) {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	next := make([]*moduleEntry, 0, len(a.modules))
	for _, m := range a.modules {
		if m != e {
			next = append(next, m)
		}
	}
	a.modules = next

	byType := make([]*moduleEntry, 0, len(a.byType[e.typ]))
	for _, m := range a.byType[e.typ] {
		if m != e {
			byType = append(byType, m)
		}
	}
	if len(byType) == 0 {
		delete(a.byType, e.typ)
	} else {
		a.byType[e.typ] = byType
	}
}

// Initialize runs synchronously to completion: it transitions the agent
// to Initializing, calls Initialize on every module that implements
// Initializer, then transitions to Initialized regardless of individual
// failures, raising an aggregate error (wrapping every per-module failure)
// if any occurred. Idempotent once Initialized; a call arriving while
// another Initialize is still in flight blocks until that one completes
// and then returns without touching any module again.
func (a *Agent) Initialize(ctx context.Context) error {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if s := a.State(); s == StateInitialized {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "Agent.Initialize")
	defer span.End()

	if err := a.transition(StateInitializing); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	a.modulesMu.Lock()
	snapshot := append([]*moduleEntry(nil), a.modules...)
	a.modulesMu.Unlock()

	var failures []sserr.ModuleFailure
	for _, e := range snapshot {
		if init, ok := e.instance.(Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				failures = append(failures, sserr.ModuleFailure{ModuleType: e.typ.String(), Err: err})
				a.logger.Error("module initialization failed", "module", e.typ.String(), "error", err)
			}
		}
	}

	var aggErr error
	if len(failures) > 0 {
		aggErr = sserr.ModuleInitFailed(&sserr.AggregateError{Failures: failures})
	}

	if err := a.transition(StateInitialized); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	a.completeInitialization(aggErr)

	if aggErr != nil {
		span.SetStatus(codes.Error, aggErr.Error())
	}
	return aggErr
}

// completeInitialization records the initialization outcome and unblocks
// every InitializationCompletion waiter, exactly once.
func (a *Agent) completeInitialization(err error) {
	a.initOnce.Do(func() {
		a.stateMu.Lock()
		a.initErr = err
		a.stateMu.Unlock()
		close(a.initDone)
	})
}

// InitializationCompletion returns a channel that receives the outcome of
// the agent's initialization exactly once and closes: nil on success, the
// ModuleInitFailed aggregate if any module failed, or an InvalidState
// error if the agent was disposed without ever being initialized. Callers
// may request it before Initialize runs.
func (a *Agent) InitializationCompletion() <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		<-a.initDone
		a.stateMu.Lock()
		err := a.initErr
		a.stateMu.Unlock()
		out <- err
	}()
	return out
}

// InitializeAsync runs Initialize on a new goroutine and returns a channel
// that receives the single resulting error (nil on success) and closes.
func (a *Agent) InitializeAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		defer close(out)
		out <- a.Initialize(ctx)
	}()
	return out
}

// Dispose transitions the agent to Disposing then Disposed, disposing
// every module regardless of declared dependency order (the agent itself
// is going away, so veto semantics do not apply here the way they do for
// a partial RemoveModules batch). Idempotent once Disposed; a call
// arriving while another Dispose is still in flight blocks until that
// one completes and then returns without disposing any module again.
func (a *Agent) Dispose(ctx context.Context) error {
	a.disposeMu.Lock()
	defer a.disposeMu.Unlock()
	if s := a.State(); s == StateDisposed {
		return nil
	}
	if s := a.State(); s == StateInitializing {
		return sserr.InvalidStatef("cannot dispose agent %q while it is Initializing", a.name)
	}
	ctx, span := a.tracer.Start(ctx, "Agent.Dispose")
	defer span.End()

	if err := a.transition(StateDisposing); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	a.completeInitialization(sserr.InvalidStatef("agent %q was disposed before initialization", a.name))

	a.Stop()

	a.modulesMu.Lock()
	snapshot := append([]*moduleEntry(nil), a.modules...)
	a.modulesMu.Unlock()

	var failures []sserr.ModuleFailure
	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		if disposer, ok := e.instance.(Disposer); ok {
			if err := disposer.Dispose(ctx); err != nil && !sserr.IsInvalidState(err) {
				failures = append(failures, sserr.ModuleFailure{ModuleType: e.typ.String(), Err: err})
			}
		}
		e.base.unbindAgent()
		a.removeEntry(e)
	}

	if err := a.transition(StateDisposed); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if len(failures) > 0 {
		err := sserr.ModuleDisposeFailed(&sserr.AggregateError{Failures: failures})
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *Agent) notifyMembershipChanged() {
	a.supMu.Lock()
	sup := a.sup
	a.supMu.Unlock()
	if sup != nil {
		sup.notifyMembershipChanged()
	}
}
