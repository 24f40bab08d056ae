package errors

import (
	"errors"
	"fmt"
)

// New creates a new Error with the specified code and message.
// Use this for creating errors without an underlying cause.
//
// Example:
//
//	err := errors.New(errors.CodeInvalidState, "agent must be Initialized to accept signals")
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with the specified code and formatted message.
// Use this for creating errors with dynamic content in the message.
//
// Example:
//
//	err := errors.Newf(errors.CodeNotFound, "module %q not found", moduleType)
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context.
// The wrapped error becomes the Cause of the new error.
// If err is nil, Wrap returns nil.
//
// Example:
//
//	if err := ctor(deps); err != nil {
//	    return errors.Wrap(err, errors.CodeModuleInsertFailed, "constructor failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with a formatted message.
// The wrapped error becomes the Cause of the new error.
// If err is nil, Wrapf returns nil.
//
// Example:
//
//	err := errors.Wrapf(err, errors.CodeModuleInsertFailed, "constructor for %q failed", moduleType)
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// InvalidState creates a new error indicating an operation was attempted
// outside its permitted lifecycle state.
// This is a convenience function equivalent to New(CodeInvalidState, message).
//
// Example:
//
//	err := errors.InvalidState("cannot Add a module while Disposing")
func InvalidState(message string) *Error {
	return New(CodeInvalidState, message)
}

// InvalidStatef creates a new invalid-state error with a formatted message.
//
// Example:
//
//	err := errors.InvalidStatef("cannot %s in state %s", op, state)
func InvalidStatef(format string, args ...any) *Error {
	return Newf(CodeInvalidState, format, args...)
}

// NotFound creates a new error indicating a requested module does not
// exist on the agent.
// This is a convenience function equivalent to New(CodeNotFound, message).
//
// Example:
//
//	err := errors.NotFound("module not found")
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf creates a new not-found error with a formatted message.
//
// Example:
//
//	err := errors.NotFoundf("module %q not found", moduleType)
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// DependencyUnresolved creates a new error indicating a constructor
// parameter or required member had no satisfying value during module
// insertion.
//
// Example:
//
//	err := errors.DependencyUnresolved("no module satisfies required dependency *Logger")
func DependencyUnresolved(message string) *Error {
	return New(CodeDependencyUnresolved, message)
}

// DependencyUnresolvedf creates a new dependency-unresolved error with a
// formatted message.
//
// Example:
//
//	err := errors.DependencyUnresolvedf("module %q requires unresolved dependency %q", moduleType, depType)
func DependencyUnresolvedf(format string, args ...any) *Error {
	return Newf(CodeDependencyUnresolved, format, args...)
}

// ModuleInsertFailed wraps the underlying cause of a failed Agent.Add
// call after rollback has completed.
//
// Example:
//
//	err := errors.ModuleInsertFailed(ctorErr, "constructor panicked")
func ModuleInsertFailed(cause error, message string) *Error {
	return Wrap(cause, CodeModuleInsertFailed, message)
}

// ModuleInsertFailedf wraps the underlying cause of a failed Agent.Add
// call with a formatted message.
func ModuleInsertFailedf(cause error, format string, args ...any) *Error {
	return Wrapf(cause, CodeModuleInsertFailed, format, args...)
}

// ModuleInitFailed creates an aggregate error for Agent.Initialize
// reporting that one or more modules failed to initialize. agg carries the
// per-module detail; it becomes the Cause of the returned *Error.
//
// Example:
//
//	if len(agg.Failures) > 0 {
//	    return errors.ModuleInitFailed(agg)
//	}
func ModuleInitFailed(agg *AggregateError) *Error {
	return &Error{
		Code:    CodeModuleInitFailed,
		Message: fmt.Sprintf("%d module(s) failed to initialize", len(agg.Failures)),
		Cause:   agg,
	}
}

// ModuleDisposeFailed creates an aggregate error for a removal batch
// reporting that one or more modules failed to dispose. agg carries the
// per-module detail; it becomes the Cause of the returned *Error.
func ModuleDisposeFailed(agg *AggregateError) *Error {
	return &Error{
		Code:    CodeModuleDisposeFailed,
		Message: fmt.Sprintf("%d module(s) failed to dispose", len(agg.Failures)),
		Cause:   agg,
	}
}

// RemovalVetoed creates a new error describing a dispose-time veto that
// prevented a module removal. The signal core itself never raises this as
// an error — a veto is logged and Agent.Remove returns false — but callers
// that want to surface the veto as an error of their own can use this
// constructor for a consistent code and message shape.
//
// Example:
//
//	err := errors.RemovalVetoed("module %q vetoed removal: %v", moduleType, vetoCause)
func RemovalVetoed(format string, args ...any) *Error {
	return Newf(CodeRemovalVetoed, format, args...)
}

// Cancelled creates a new error indicating a caller-supplied context was
// cancelled.
//
// Example:
//
//	err := errors.Cancelled("dispatch cancelled before processors completed")
func Cancelled(message string) *Error {
	return New(CodeCancelled, message)
}

// Cancelledf creates a new cancellation error with a formatted message.
func Cancelledf(format string, args ...any) *Error {
	return Newf(CodeCancelled, format, args...)
}

// RunPolicyError wraps a module run-loop failure that the
// RethrowAndStopAll policy is propagating to the caller of Agent.Run.
//
// Example:
//
//	err := errors.RunPolicyError(runErr, "module exited")
func RunPolicyError(cause error, message string) *Error {
	return Wrap(cause, CodeRunPolicyError, message)
}

// RunPolicyErrorf wraps a module run-loop failure with a formatted message.
func RunPolicyErrorf(cause error, format string, args ...any) *Error {
	return Wrapf(cause, CodeRunPolicyError, format, args...)
}

// FromError converts a standard error to an Error.
// If the error is already an *Error, it is returned as-is.
// Otherwise, it is wrapped as an invalid-state error, since an
// unrecognized error reaching the signal core almost always means an
// operation ran outside the state it expected.
//
// Example:
//
//	runtimeErr := errors.FromError(err)
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return Wrap(err, CodeInvalidState, "an unexpected error occurred")
}
