package signal

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
	"github.com/nimbusframe/nimbus/pkg/identity"
)

// RunningModuleExceptionPolicy selects how the run supervisor reacts when
// a module's RunLoop returns a non-cancellation error.
// The zero value is [LogAndStopModule], the default.
type RunningModuleExceptionPolicy int

const (
	// LogAndStopModule logs the error and removes the offending module's
	// task from the active set; every other module's loop keeps running.
	// This is the default policy.
	LogAndStopModule RunningModuleExceptionPolicy = iota

	// LogAndRemoveModule logs the error and removes the module itself from
	// the agent (via RemoveModules), not merely its run task.
	LogAndRemoveModule

	// LogAndRerunModule logs the error and restarts just that module's
	// task after a fixed 10ms backoff.
	LogAndRerunModule

	// LogAndRerunAll logs the error, cancels every active task, and
	// restarts the whole supervisor generation after a fixed 10ms backoff.
	LogAndRerunAll

	// LogAndStopAll logs the error, cancels every active task, and
	// returns from Run with a nil error.
	LogAndStopAll

	// RethrowAndStopAll cancels every active task and propagates the
	// offending error, wrapped as CodeRunPolicyError, to the caller of
	// Run.
	RethrowAndStopAll
)

// String returns the string representation of the policy.
func (p RunningModuleExceptionPolicy) String() string {
	switch p {
	case LogAndStopModule:
		return "LogAndStopModule"
	case LogAndRemoveModule:
		return "LogAndRemoveModule"
	case LogAndRerunModule:
		return "LogAndRerunModule"
	case LogAndRerunAll:
		return "LogAndRerunAll"
	case LogAndStopAll:
		return "LogAndStopAll"
	case RethrowAndStopAll:
		return "RethrowAndStopAll"
	default:
		return "RunningModuleExceptionPolicy(unknown)"
	}
}

// rerunBackoff is the fixed restart backoff for LogAndRerunModule and
// LogAndRerunAll.
const rerunBackoff = 10 * time.Millisecond

// taskEvent reports that a module's RunLoop goroutine returned, carrying
// the error it returned (nil on a clean return).
type taskEvent struct {
	module *Module
	err    error
}

// restartRequest asks the supervisor's main loop to restart a single
// module's task after a backoff delay has elapsed, without racing the
// active-task map from outside the loop's own goroutine.
type restartRequest struct {
	module *Module
}

// supervisor keeps one task alive per module with a RunLoop method,
// restarted on membership change, governed by a
// RunningModuleExceptionPolicy on task failure.
type supervisor struct {
	agent  *Agent
	policy RunningModuleExceptionPolicy

	membershipCh chan struct{}
	cancel       context.CancelFunc
}

// notifyMembershipChanged wakes the supervisor's reconfiguration loop.
// The channel is buffered depth 1 and the send is non-blocking, so a
// burst of membership changes coalesces into a single reconfiguration.
func (s *supervisor) notifyMembershipChanged() {
	select {
	case s.membershipCh <- struct{}{}:
	default:
	}
}

// Run starts the run supervisor. It blocks until ctx is canceled, Stop is
// called, or a RethrowAndStopAll / LogAndStopAll policy action terminates
// the loop. A supervisor whose every task has returned stays alive and
// keeps awaiting membership changes, so a module added while running
// still gets a task without restarting Run.
func (a *Agent) Run(ctx context.Context, policy RunningModuleExceptionPolicy) error {
	if s := a.State(); s != StateInitialized {
		return sserr.InvalidStatef("cannot run agent %q in state %s, must be Initialized", a.name, s)
	}

	ctx, span := a.tracer.Start(ctx, "Agent.Run")
	defer span.End()

	a.supMu.Lock()
	if a.sup != nil {
		a.supMu.Unlock()
		err := sserr.InvalidStatef("agent %q is already running", a.name)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	supCtx, cancel := context.WithCancel(ctx)
	sup := &supervisor{
		agent:        a,
		policy:       policy,
		membershipCh: make(chan struct{}, 1),
		cancel:       cancel,
	}
	a.sup = sup
	a.supMu.Unlock()

	err := sup.runLoop(supCtx)

	a.supMu.Lock()
	a.sup = nil
	a.supMu.Unlock()
	cancel()

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Stop cancels the current Run invocation, if one is active. It is a
// no-op if the agent is not currently running. Stop does not wait for the
// module tasks to finish unwinding; callers that need that should use
// Run's own return instead (call Stop from another goroutine and let Run
// return on this goroutine).
func (a *Agent) Stop() {
	a.supMu.Lock()
	sup := a.sup
	a.supMu.Unlock()
	if sup != nil {
		sup.cancel()
	}
}

// runnableEntry pairs a Runner module instance with its embedded *Module
// base, the identity runLoop tracks active tasks by.
type runnableEntry struct {
	base   *Module
	runner Runner
}

// runnableModules returns every current module implementing Runner,
// paired with its *Module base for task bookkeeping.
func (a *Agent) runnableModules() []runnableEntry {
	a.modulesMu.Lock()
	defer a.modulesMu.Unlock()
	out := make([]runnableEntry, 0, len(a.modules))
	for _, e := range a.modules {
		if r, ok := e.instance.(Runner); ok {
			out = append(out, runnableEntry{base: e.base, runner: r})
		}
	}
	return out
}

// runLoop is the reconfiguration loop: (re)start tasks for every
// runnable module not already active, react to task completion/failure
// per policy, and repeat on every membership-change notification until
// ctx is canceled or a stop-everything policy fires.
func (s *supervisor) runLoop(ctx context.Context) error {
	type activeTask struct {
		cancel context.CancelFunc
	}
	active := make(map[*Module]activeTask)
	events := make(chan taskEvent)
	restarts := make(chan restartRequest)
	restartAll := make(chan struct{})

	start := func(base *Module, runner Runner) {
		taskCtx, cancel := context.WithCancel(ctx)
		active[base] = activeTask{cancel: cancel}
		go func() {
			err := runner.RunLoop(taskCtx)
			select {
			case events <- taskEvent{module: base, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	cancelAll := func() {
		for _, t := range active {
			t.cancel()
		}
	}

	reconfigure := func() {
		current := s.agent.runnableModules()
		currentSet := make(map[*Module]Runner, len(current))
		for _, c := range current {
			currentSet[c.base] = c.runner
		}
		for m, t := range active {
			if _, ok := currentSet[m]; !ok {
				t.cancel()
				delete(active, m)
			}
		}
		for _, c := range current {
			if _, ok := active[c.base]; !ok {
				start(c.base, c.runner)
			}
		}
	}

	scheduleRestart := func(m *Module) {
		go func() {
			select {
			case <-time.After(rerunBackoff):
			case <-ctx.Done():
				return
			}
			select {
			case restarts <- restartRequest{module: m}:
			case <-ctx.Done():
			}
		}()
	}

	scheduleRestartAll := func() {
		go func() {
			select {
			case <-time.After(rerunBackoff):
			case <-ctx.Done():
				return
			}
			select {
			case restartAll <- struct{}{}:
			case <-ctx.Done():
			}
		}()
	}

	reconfigure()

	for {
		select {
		case <-ctx.Done():
			cancelAll()
			return nil

		case <-s.membershipCh:
			reconfigure()

		case req := <-restarts:
			current := s.agent.runnableModules()
			for _, c := range current {
				if c.base == req.module {
					if _, ok := active[c.base]; !ok {
						start(c.base, c.runner)
					}
					break
				}
			}

		case <-restartAll:
			reconfigure()

		case ev := <-events:
			delete(active, ev.module)

			if ev.err == nil || errors.Is(ev.err, context.Canceled) || errors.Is(ev.err, context.DeadlineExceeded) {
				continue
			}

			logAttrs := []any{
				"agent", s.agent.name,
				"module", ev.module.TypeName(),
				"policy", s.policy.String(),
				"error", ev.err,
			}
			if id, ok := identity.IdentityFromContext(ctx); ok {
				logAttrs = append(logAttrs, "caller_id", id.ID(), "caller_type", id.Type().String())
			}
			s.agent.logger.Error("module run loop failed", logAttrs...)

			switch s.policy {
			case LogAndStopModule:
				// already removed from active; nothing more to do.

			case LogAndRemoveModule:
				go func(m *Module) {
					if _, err := s.agent.RemoveModules(ctx, []*Module{m}); err != nil {
						s.agent.logger.Error("failed to remove module after run loop failure",
							"module", m.TypeName(), "error", err)
					}
				}(ev.module)

			case LogAndRerunModule:
				scheduleRestart(ev.module)

			case LogAndRerunAll:
				cancelAll()
				active = make(map[*Module]activeTask)
				scheduleRestartAll()

			case LogAndStopAll:
				cancelAll()
				return nil

			case RethrowAndStopAll:
				cancelAll()
				return sserr.RunPolicyErrorf(ev.err, "module %s run loop failed under RethrowAndStopAll", ev.module.TypeName())
			}
		}
	}
}
