// Package errors provides the structured error type used throughout the
// nimbus signal runtime. It defines the error taxonomy described by the
// runtime's error handling design, along with helper functions for
// creating, wrapping, and inspecting errors.
//
// # Error Categories
//
// The package defines one category per failure mode the signal core itself
// can raise:
//
//   - InvalidState: an operation was attempted outside its permitted
//     lifecycle state
//   - NotFound: a requested module does not exist on the agent
//   - DependencyUnresolved: a constructor parameter or required member had
//     no satisfying value during module insertion
//   - ModuleInsertFailed: Agent.Add failed and was rolled back
//   - ModuleInitFailed: one or more modules failed Initialize
//   - ModuleDisposeFailed: one or more modules failed Dispose
//   - RemovalVetoed: a dispose-time veto prevented a module removal (soft,
//     not raised as an error by the core)
//   - Cancelled: a caller-supplied context was cancelled
//   - RunPolicyError: the run supervisor's RethrowAndStopAll policy
//     propagated a module failure to the caller
//
// # Error Codes
//
// Each error includes a machine-readable code (e.g., "STATE_001") that can
// be used for error tracking and automated handling. Error codes follow the
// pattern CATEGORY_XXX where CATEGORY is a short identifier and XXX is a
// numeric code.
//
// # Usage
//
// Create a new error with context:
//
//	err := errors.New(errors.CodeInvalidState, "agent must be Initialized to accept signals")
//
// Wrap an existing error:
//
//	err := errors.Wrap(err, errors.CodeModuleInitFailed, "module failed to initialize")
//
// Check error category:
//
//	if errors.IsNotFound(err) {
//	    // handle missing module
//	}
//
// Extract error details for logging:
//
//	if e, ok := errors.AsError(err); ok {
//	    logger.Error("operation failed",
//	        "code", e.Code,
//	        "message", e.Message,
//	    )
//	}
package errors
