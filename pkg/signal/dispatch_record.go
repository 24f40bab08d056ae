package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DispatchStatus is the terminal outcome of one Send/SendAsync call,
// recorded for observability. A DispatchRecord
// begins in [DispatchStatusRunning] and moves to exactly one terminal
// status once the dispatch's lazy sequence is fully drained.
type DispatchStatus string

const (
	// DispatchStatusRunning is the status a record is created with, before
	// the processor chain has finished producing items.
	DispatchStatusRunning DispatchStatus = "running"

	// DispatchStatusCompleted indicates every processor in the chain ran
	// to completion and the sequence was drained normally.
	DispatchStatusCompleted DispatchStatus = "completed"

	// DispatchStatusSuppressed indicates an interceptor ended its sequence
	// without calling Next, so the remainder of the chain never observed
	// the signal. It is still a clean outcome, not a failure.
	DispatchStatusSuppressed DispatchStatus = "suppressed"

	// DispatchStatusFailed indicates at least one processor panicked during
	// dispatch. The panic was recovered and logged, and the rest of the
	// chain still ran, but the record flags the occurrence instead of
	// reporting a clean Completed outcome.
	DispatchStatusFailed DispatchStatus = "failed"

	// DispatchStatusCancelled indicates the caller's context was canceled
	// before the sequence finished draining.
	DispatchStatusCancelled DispatchStatus = "cancelled"
)

// String returns the string representation of the dispatch status.
func (s DispatchStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status represents a finished dispatch.
// [DispatchStatusRunning] is the only non-terminal value.
func (s DispatchStatus) IsTerminal() bool {
	return s != DispatchStatusRunning
}

// DispatchRecord is an in-memory, never-persisted observability record
// emitted for every Send/SendAsync call: instead of an execution's
// pending/running/completed lifecycle, a DispatchRecord tracks one signal
// traveling through a Signaler's processor chain. No field is serialized
// to a store; the record exists purely for the best-effort feed consumed
// via [Agent.DispatchRecords].
type DispatchRecord struct {
	// ID uniquely identifies this dispatch.
	ID uuid.UUID

	// SignalType is the display name of the signal's Go type, e.g.
	// "string" or "mypkg.OrderPlaced".
	SignalType string

	// ResponseType is the display name of the response type R the caller
	// requested from SendAgent[T, R].
	ResponseType string

	// Status is the current or terminal outcome of the dispatch.
	Status DispatchStatus

	// ResponseCount is the number of items the caller's sequence yielded
	// before reaching a terminal status.
	ResponseCount int

	// StartedAt is the UTC time the dispatch began.
	StartedAt time.Time

	// EndedAt is the UTC time the dispatch reached a terminal status. Zero
	// while Status is [DispatchStatusRunning].
	EndedAt time.Time
}

// newDispatchRecord creates a record in [DispatchStatusRunning] for a
// dispatch of the given signal and response type names.
func newDispatchRecord(signalType, responseType string) *DispatchRecord {
	return &DispatchRecord{
		ID:           uuid.New(),
		SignalType:   signalType,
		ResponseType: responseType,
		Status:       DispatchStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
}

// finish returns a copy of the record transitioned to a terminal status,
// leaving the original untouched; dispatch goroutines publish the copy
// rather than mutate a record a reader might be holding.
func (r *DispatchRecord) finish(status DispatchStatus, responseCount int) *DispatchRecord {
	done := *r
	done.Status = status
	done.ResponseCount = responseCount
	done.EndedAt = time.Now().UTC()
	return &done
}

// Duration returns the wall-clock duration of the dispatch. If the record
// has not reached a terminal status, the duration is measured to now.
func (r *DispatchRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	if !r.EndedAt.IsZero() {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// String renders a one-line summary suitable for log lines.
func (r *DispatchRecord) String() string {
	return fmt.Sprintf("DispatchRecord{id=%s type=%s->%s status=%s responses=%d}",
		r.ID, r.SignalType, r.ResponseType, r.Status, r.ResponseCount)
}

// dispatchFeed is a single-writer, multi-reader broadcast of
// [DispatchRecord] values, built the same way as stateBroadcast: a new
// subscriber receives nothing retroactively (unlike state, there is no
// single "current" dispatch to replay) but every record published from
// the moment of subscription onward, on a small buffered channel so a
// slow reader cannot block dispatch.
type dispatchFeed struct {
	mu          sync.Mutex
	subscribers map[int]chan *DispatchRecord
	nextID      int
}

func newDispatchFeed() *dispatchFeed {
	return &dispatchFeed{subscribers: make(map[int]chan *DispatchRecord)}
}

// Subscribe registers a new observer of every future DispatchRecord and
// returns its channel plus an unsubscribe function.
func (f *dispatchFeed) Subscribe() (<-chan *DispatchRecord, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan *DispatchRecord, 32)
	id := f.nextID
	f.nextID++
	f.subscribers[id] = ch

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subscribers[id]; ok {
			delete(f.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Publish delivers r to every current subscriber, dropping the oldest
// buffered record for any subscriber that has fallen behind rather than
// blocking the dispatch goroutine.
func (f *dispatchFeed) Publish(r *DispatchRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subscribers {
		select {
		case ch <- r:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- r:
			default:
			}
		}
	}
}
