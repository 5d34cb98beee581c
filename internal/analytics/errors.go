package analytics

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the analytics core. Callers classify with
// errors.Is; the API layer maps these onto response classes.
var (
	// ErrValidation marks bad input (ranges, enums). Rejected before any
	// mutation and never worth retrying.
	ErrValidation = errors.New("validation error")

	// ErrConflict marks an operation that lost to an earlier state
	// transition, e.g. resolving an already-resolved error.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrDependency marks an unreachable or failing backing store. Safe to
	// retry at the caller's discretion.
	ErrDependency = errors.New("dependency error")

	// ErrInternal marks an unexpected failure.
	ErrInternal = errors.New("internal error")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// dependency wraps a store error so callers can distinguish retryable
// infrastructure failures from everything else.
func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDependency, op, err)
}
