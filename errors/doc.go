// Package errors provides structured error types for the graphics boundary.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a detail message, an optional offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseBundle, errors.KindInvalidState).
//		Value(id).
//		Detail("encoder %d already finalized", id).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseHandle, "handle", uint64(h))
//	err := errors.OutOfMemory(errors.PhaseArena, size, align)
//
// Kind-only sentinels match any phase:
//
//	if errors.Is(err, errors.ErrInvalidHandle) { ... }
package errors
