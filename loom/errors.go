/*
errors.go - Centralized error types for the loom engine

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any transaction starts
  2. Not-found errors - referenced rows that do not exist
  3. Store errors - database-level failures, surfaced wrapped

Resource insufficiency (not enough staff, not enough seats, no sickness
replacement) is deliberately NOT an error: those outcomes are recorded in
the instance's optimisation state and surfaced through the Result shape.
*/
package loom

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidWindow is returned when a window size is outside 1-16 weeks.
	ErrInvalidWindow = errors.New("window size out of range")

	// ErrInvalidCancellationType is returned for a cancellation type outside
	// {normal, short_notice}.
	ErrInvalidCancellationType = errors.New("invalid cancellation type")

	// ErrAlreadyCancelled is returned when cancelling an allocation that is
	// already cancelled. Callers may treat this as a no-op.
	ErrAlreadyCancelled = errors.New("allocation already cancelled")

	ErrProgramNotFound    = errors.New("program not found")
	ErrInstanceNotFound   = errors.New("instance not found")
	ErrAllocationNotFound = errors.New("allocation not found")
	ErrShiftNotFound      = errors.New("shift not found")
	ErrStaffNotFound      = errors.New("staff not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// WindowError reports an out-of-range window request.
type WindowError struct {
	Weeks int
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window size %d weeks out of range [%d, %d]", e.Weeks, MinWindowWeeks, MaxWindowWeeks)
}

func (e *WindowError) Unwrap() error { return ErrInvalidWindow }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsValidation reports whether the error is due to invalid caller input.
// Validation failures never start a transaction.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidCancellationType) ||
		errors.Is(err, ErrAlreadyCancelled)
}

// IsNotFound reports whether the error refers to a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrShiftNotFound) ||
		errors.Is(err, ErrStaffNotFound)
}
