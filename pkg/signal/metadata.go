package signal

import (
	"context"
	"reflect"
	"sync"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
)

// DependencyKind identifies where a module constructor's parameter is
// resolved from, replacing reflection-driven parameter introspection with
// an explicit, registry-declared list.
type DependencyKind int

const (
	// DepService resolves from the agent's ServiceProvider.
	DepService DependencyKind = iota
	// DepAgent resolves to the agent itself.
	DepAgent
	// DepModule resolves to an existing module of the exact concrete
	// type, inserting one (recursively) if none exists yet.
	DepModule
	// DepModuleAssignable resolves to an existing module assignable to
	// an abstract (interface) type; it is never auto-inserted.
	DepModuleAssignable
)

// Dependency describes one constructor parameter or required-member
// value a module descriptor needs resolved before (or during) insertion.
type Dependency struct {
	Kind DependencyKind
	// Type is the service type (DepService), the concrete module type
	// (DepModule), or the interface type (DepModuleAssignable). Unused
	// for DepAgent.
	Type reflect.Type
}

// RequiredMember describes a settable field on a module instance that
// must be populated with a required module before Configure runs.
type RequiredMember struct {
	// Type is the concrete or interface type the member must hold.
	Type reflect.Type
	// Assignable marks Type as an abstract type resolved only against
	// existing modules (never auto-inserted), mirroring DepModuleAssignable.
	Assignable bool
	// Set assigns the resolved dependency onto the module instance.
	Set func(instance any, dependency any)
}

// Descriptor is the instantiation recipe a module type registers once, at
// package init time, via RegisterModuleType. The agent walks this
// descriptor during Add instead of inspecting constructor parameter lists
// by reflection.
type Descriptor struct {
	// Singleton marks that at most one instance of this type may exist
	// per agent; a second Add configures the existing instance instead
	// of creating a new one.
	Singleton bool
	// Dependencies lists, in order, the values Construct expects.
	Dependencies []Dependency
	// Construct builds the concrete module given the agent and the
	// resolved dependency values, in the same order as Dependencies.
	// The returned value's concrete type must embed signal.Module.
	Construct func(agent *Agent, resolved []any) (any, error)
	// RequiredMembers lists members set immediately after construction,
	// before Configure runs.
	RequiredMembers []RequiredMember
}

var (
	registryMu sync.Mutex
	registry   = make(map[reflect.Type]*Descriptor)
)

// RegisterModuleType records the instantiation descriptor for module type
// T, keyed by T's own reflect.Type. Intended to be called from an init()
// function in the package that defines T, mirroring how module authors in
// other ecosystems register a type with a DI container at startup.
func RegisterModuleType[T any](desc Descriptor) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	registryMu.Lock()
	defer registryMu.Unlock()
	d := desc
	registry[t] = &d
}

func lookupDescriptor(t reflect.Type) (*Descriptor, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[t]
	return d, ok
}

// ServiceProvider is the opaque external dependency-resolution capability
// an Agent may be constructed with. A nil provider behaves as one that
// always reports absent.
type ServiceProvider interface {
	Resolve(ctx context.Context, t reflect.Type) (any, bool)
}

type noServiceProvider struct{}

func (noServiceProvider) Resolve(context.Context, reflect.Type) (any, bool) { return nil, false }

// resolveDependency resolves a single Dependency against the agent's
// module sequence, service provider, or — for DepModule — by recursively
// inserting a module of that concrete type. depType is the type that
// ultimately satisfied the dependency (used to record the required-by
// edge); it is the zero Type when the dependency has no module identity
// (DepService, DepAgent).
func resolveDependency(ctx context.Context, a *Agent, forType reflect.Type, dep Dependency) (value any, satisfiedBy reflect.Type, err error) {
	switch dep.Kind {
	case DepService:
		sp := a.serviceProvider
		if sp == nil {
			sp = noServiceProvider{}
		}
		v, ok := sp.Resolve(ctx, dep.Type)
		if !ok {
			return nil, nil, sserr.DependencyUnresolvedf("no service registered for type %s (required by %s)", dep.Type, forType)
		}
		return v, nil, nil

	case DepAgent:
		return a, nil, nil

	case DepModule:
		if existing, ok := a.firstByExactType(dep.Type); ok {
			return existing, dep.Type, nil
		}
		inserted, err := a.addByType(ctx, dep.Type, nil, nil)
		if err != nil {
			return nil, nil, sserr.DependencyUnresolvedf("required module %s could not be constructed: %v", dep.Type, err)
		}
		return inserted, dep.Type, nil

	case DepModuleAssignable:
		if existing, ok := a.firstAssignable(dep.Type); ok {
			// Key the required-by edge by the bare struct type, the same
			// identity moduleEntry.typ and every other edge use.
			t := reflect.TypeOf(existing)
			for t.Kind() == reflect.Ptr {
				t = t.Elem()
			}
			return existing, t, nil
		}
		return nil, nil, sserr.DependencyUnresolvedf("no module assignable to %s (required by %s)", dep.Type, forType)

	default:
		return nil, nil, sserr.DependencyUnresolvedf("unknown dependency kind for %s", forType)
	}
}
