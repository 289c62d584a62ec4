/*
errors.go - Centralized error types for the indicator engine

PURPOSE:
  All error values in one place for consistency and discoverability.
  Callers match with errors.Is; structured errors carry context and
  unwrap to the matching sentinel.

ERROR CATEGORIES:
  1. Parameter errors - caller-supplied input invalid, nothing persisted
  2. Precondition errors - stored data does not support the operation
  3. Store errors - network/database failures surfaced by implementations

SEE ALSO:
  - expander.go: raises the precondition errors
  - schedule.go: raises the parameter errors
*/
package indicator

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRecurrenceUnit is returned when a unit outside the closed
	// Day/Month/Year set reaches schedule arithmetic, or when parsing an
	// unknown stored unit string.
	ErrInvalidRecurrenceUnit = errors.New("invalid recurrence unit")

	// ErrInvalidInterval is returned when a recurrence interval below 1
	// reaches Advance.
	ErrInvalidInterval = errors.New("recurrence interval must be >= 1")

	// ErrInvalidRepeatCount is returned when the expander is asked for a
	// non-positive number of occurrences.
	ErrInvalidRepeatCount = errors.New("repeat count must be >= 1")

	// ErrBaseNotFound is returned when the expansion template does not exist.
	ErrBaseNotFound = errors.New("base record not found")

	// ErrNoAnchorDate is returned when neither an existing occurrence nor
	// the base's initial due date provides a starting point.
	ErrNoAnchorDate = errors.New("no anchor date for expansion")

	// ErrRecordNotFound is returned by store operations scoped to a
	// missing id.
	ErrRecordNotFound = errors.New("record not found")

	// ErrStoreUnavailable wraps network or database failures on a store
	// call. Export and parse abort on it; the apply loop treats it as a
	// per-row failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// StoreError annotates a store failure with the operation that failed.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return ErrStoreUnavailable }

// IsClientError reports whether the error is due to invalid caller input,
// as opposed to a store or precondition failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecurrenceUnit) ||
		errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidRepeatCount)
}

// IsNotFound reports whether the error indicates missing stored data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBaseNotFound) || errors.Is(err, ErrRecordNotFound)
}
