package errors

import (
	"errors"
)

// AsError attempts to convert an error to an *Error.
// Returns the Error and true if successful, nil and false otherwise.
// This function traverses the error chain using errors.As.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    log.Printf("error code: %s, message: %s", e.Code, e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the error code from an error.
// If the error is not an *Error or is nil, returns an empty string.
//
// Example:
//
//	code := errors.GetCode(err)
//	if code == errors.CodeNotFound {
//	    // handle not found
//	}
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode checks if an error has the specified error code.
// Returns false if the error is nil or not an *Error.
//
// Example:
//
//	if errors.HasCode(err, errors.CodeInvalidState) {
//	    // handle invalid state
//	}
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsInvalidState checks if the error indicates an operation was attempted
// outside its permitted lifecycle state (STATE_xxx).
//
// Example:
//
//	if errors.IsInvalidState(err) {
//	    // the agent was not in a state that permits this operation
//	}
func IsInvalidState(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "STATE"
}

// IsNotFound checks if the error indicates a requested module does not
// exist (NF_xxx).
//
// Example:
//
//	if errors.IsNotFound(err) {
//	    // module is not present on the agent
//	}
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "NF"
}

// IsDependencyUnresolved checks if the error indicates a constructor
// parameter or required member had no satisfying value (DEP_xxx).
//
// Example:
//
//	if errors.IsDependencyUnresolved(err) {
//	    // a dependency could not be satisfied during insertion
//	}
func IsDependencyUnresolved(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "DEP"
}

// IsModuleInsertFailed checks if the error indicates a module insertion
// was rolled back after failing (INS_xxx).
func IsModuleInsertFailed(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INS"
}

// IsModuleInitFailed checks if the error is the aggregate raised when one
// or more modules failed Initialize (INIT_xxx).
func IsModuleInitFailed(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INIT"
}

// IsModuleDisposeFailed checks if the error is the aggregate raised when
// one or more modules failed Dispose (DISP_xxx).
func IsModuleDisposeFailed(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "DISP"
}

// IsRemovalVetoed checks if the error describes a dispose-time veto of a
// module removal (VETO_xxx). The signal core never raises this as an
// error on its own; this check exists for callers that choose to surface
// a veto via [RemovalVetoed].
func IsRemovalVetoed(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "VETO"
}

// IsCancelled checks if the error indicates a caller-supplied
// cancellation was observed (CANCEL_xxx).
func IsCancelled(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "CANCEL"
}

// IsRunPolicyError checks if the error is a module run-loop failure
// propagated by the RethrowAndStopAll run policy (POLICY_xxx).
func IsRunPolicyError(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "POLICY"
}
