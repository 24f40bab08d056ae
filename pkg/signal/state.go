// Package signal implements an in-process modular agent runtime: a
// lifecycle-managed container (Agent) that composes independently
// developed units (Module) collaborating solely through a typed, ordered,
// interceptable signal pipeline.
package signal

import (
	"fmt"
	"sync"
)

// State is one of the five lifecycle states an Agent moves through.
// Transitions are monotone: Uninitialized -> Initializing -> Initialized,
// and from any of those three to Disposing -> Disposed. No transition
// leaves Disposed.
type State int

const (
	// StateUninitialized is the state an Agent is constructed into.
	StateUninitialized State = iota
	// StateInitializing is entered while Initialize is running.
	StateInitializing
	// StateInitialized is entered once Initialize completes.
	StateInitialized
	// StateDisposing is entered while Dispose is running.
	StateDisposing
	// StateDisposed is terminal; no field is usable after this state.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StateDisposing:
		return "Disposing"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions enumerates every legal (from, to) state pair. A
// transition not present here is rejected with CodeInvalidState.
var validTransitions = map[State]map[State]bool{
	StateUninitialized: {
		StateInitializing: true,
		StateDisposing:    true,
	},
	StateInitializing: {
		StateInitialized: true,
		StateDisposing:   true,
	},
	StateInitialized: {
		StateDisposing: true,
	},
	StateDisposing: {
		StateDisposed: true,
	},
	StateDisposed: {},
}

// ValidTransition reports whether moving from `from` to `to` is permitted
// by the lifecycle state machine. Staying in the same state is always
// considered invalid here; callers that need idempotent no-ops (Initialize
// from Initialized, Dispose from Disposed) check for that explicitly before
// consulting this function.
func ValidTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// StateChangeHandler is a callback invoked synchronously, under the
// agent's state mutex, whenever the agent's lifecycle state changes.
// Handlers that panic are recovered and logged without preventing the
// state change, matching the runtime's general rule that callback panics
// never escape into framework code.
type StateChangeHandler func(old, new State)

// stateBroadcast is a single-writer, multi-reader observable of the
// current State. A new subscriber immediately receives the current value
// as its first delivered item, then every subsequent change, on a small
// buffered channel so a slow reader cannot block the writer.
type stateBroadcast struct {
	mu          sync.Mutex
	current     State
	subscribers map[int]chan State
	nextID      int
}

func newStateBroadcast(initial State) *stateBroadcast {
	return &stateBroadcast{
		current:     initial,
		subscribers: make(map[int]chan State),
	}
}

// Subscribe registers a new observer and returns a receive-only channel
// that immediately carries the current state, followed by every future
// transition, plus an unsubscribe function. The channel is buffered (depth
// 8); a subscriber that falls behind skips intermediate states rather than
// blocking the publisher — the oldest buffered values are dropped to make
// room for newer ones.
func (b *stateBroadcast) Subscribe() (<-chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan State, 8)
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	ch <- b.current

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Set updates the current state and notifies every subscriber. Must be
// called with the owning Agent's state mutex already held, since it does
// not itself serialize against concurrent State() reads of the owner.
func (b *stateBroadcast) Set(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = s
	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
			// Slow subscriber; drop the oldest buffered value to make
			// room rather than block the state transition.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Current returns the most recently published state without subscribing.
func (b *stateBroadcast) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
