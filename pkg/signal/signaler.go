package signal

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Signaler is the per-signal-type dispatcher: an ordered chain of
// Processors plus a preferred-module-order list. The processor array and
// the preferred-order array are copy-on-write: they are only ever
// reassigned wholesale under mu, never mutated in place, so a dispatch
// reads a local snapshot and requires no lock while walking the chain.
type Signaler[T any] struct {
	mu             sync.Mutex
	processors     []*procEntry[T]
	preferredOrder []*Module
	logger         *slog.Logger
	seqCounter     uint64
}

func newSignaler[T any](logger *slog.Logger) *Signaler[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signaler[T]{logger: logger}
}

func (s *Signaler[T]) nextSeq() uint64 {
	return atomic.AddUint64(&s.seqCounter, 1)
}

// subscription is the handle returned when a processor is added. Disposing
// it removes the processor from the signaler's array.
type subscription[T any] struct {
	signaler *Signaler[T]
	entry    *procEntry[T]
}

// Unsubscribe removes the processor from the signaler's processor array,
// copy-on-write.
func (sub *subscription[T]) Unsubscribe() {
	sub.signaler.remove(sub.entry)
}

func (s *Signaler[T]) add(entry *procEntry[T]) *subscription[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processors = append(cloneEntries(s.processors), entry)
	s.reorderLocked()
	return &subscription[T]{signaler: s, entry: entry}
}

func (s *Signaler[T]) remove(entry *procEntry[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*procEntry[T], 0, len(s.processors))
	for _, e := range s.processors {
		if e != entry {
			next = append(next, e)
		}
	}
	s.processors = next
}

// removeModule drops every processor owned by the given module, used when
// the module itself is removed from the agent.
func (s *Signaler[T]) removeModule(m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]*procEntry[T], 0, len(s.processors))
	for _, e := range s.processors {
		if e.module != m {
			next = append(next, e)
		}
	}
	s.processors = next

	nextOrder := make([]*Module, 0, len(s.preferredOrder))
	for _, mod := range s.preferredOrder {
		if mod != m {
			nextOrder = append(nextOrder, mod)
		}
	}
	s.preferredOrder = nextOrder
}

// SetPreferredOrder recomputes the processor array so that processors
// whose owning module is listed here appear first, in that declared
// order, with ties within the same module preserving subscription order.
// All other processors follow in subscription-insertion order.
func (s *Signaler[T]) SetPreferredOrder(modules []*Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferredOrder = append([]*Module(nil), modules...)
	s.reorderLocked()
}

// reorderLocked must be called with mu held. It rebuilds s.processors in
// preferred-order-first, then-insertion-order form without mutating any
// existing entry — a fresh slice is always produced, preserving
// copy-on-write.
func (s *Signaler[T]) reorderLocked() {
	if len(s.preferredOrder) == 0 {
		sorted := append([]*procEntry[T](nil), s.processors...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })
		s.processors = sorted
		return
	}

	rank := make(map[*Module]int, len(s.preferredOrder))
	for i, m := range s.preferredOrder {
		rank[m] = i
	}

	sorted := append([]*procEntry[T](nil), s.processors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, iPreferred := rank[sorted[i].module]
		rj, jPreferred := rank[sorted[j].module]
		switch {
		case iPreferred && jPreferred:
			if ri != rj {
				return ri < rj
			}
			return sorted[i].seq < sorted[j].seq
		case iPreferred && !jPreferred:
			return true
		case !iPreferred && jPreferred:
			return false
		default:
			return sorted[i].seq < sorted[j].seq
		}
	})
	s.processors = sorted
}

func cloneEntries[T any](entries []*procEntry[T]) []*procEntry[T] {
	return append([]*procEntry[T](nil), entries...)
}

// snapshot returns the current processor array without holding the lock
// across dispatch; callers that begin a dispatch observe exactly the
// membership at the moment dispatch started, regardless of concurrent
// subscription changes.
func (s *Signaler[T]) snapshot() []*procEntry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processors
}

// dispatch returns the lazy asynchronous sequence produced by sending v
// through the processor chain, erased to `any`. When the signaler has no
// processors at all, the sequence yields v itself exactly once; callers
// (SendAgent[T,R]) are responsible for the final type assertion against R,
// which is what makes that single item visible only when R and T are the
// same type.
func (s *Signaler[T]) dispatch(ctx context.Context, v T) <-chan any {
	entries := s.snapshot()
	out := make(chan any)
	go func() {
		defer close(out)
		drain(ctx, out, chain(ctx, entries, 0, v))
	}()
	return out
}

func chain[T any](ctx context.Context, entries []*procEntry[T], i int, v T) <-chan any {
	if i >= len(entries) {
		out := make(chan any)
		go func() {
			defer close(out)
			if len(entries) == 0 {
				forward(ctx, out, v)
			}
		}()
		return out
	}

	entry := entries[i]
	next := func(ctx context.Context, v2 T) <-chan any {
		return chain(ctx, entries, i+1, v2)
	}
	return entry.run(ctx, v, next)
}
