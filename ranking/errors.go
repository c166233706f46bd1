/*
errors.go - Centralized error types for the ranking engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers should match with errors.Is / errors.As, never string compares.

ERROR CATEGORIES:
  1. Input errors - unknown user, malformed completion, duplicate delivery
  2. Conflict errors - concurrent ledger writers; retryable
  3. Configuration errors - empty or invalid rank table; fatal to resolution

SEE ALSO:
  - ledger.go: retries ErrLedgerConflict before surfacing it
  - reconcile package: records per-user errors into the batch report
*/
package ranking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when a user reference does not resolve.
	ErrUserNotFound = errors.New("user not found")

	// ErrRankNotFound is returned when a rank reference does not resolve.
	ErrRankNotFound = errors.New("rank not found")

	// ErrLedgerConflict is returned when a concurrent writer invalidated a
	// ledger upsert. Retryable: callers retry the upsert transactionally
	// rather than dropping the increment.
	ErrLedgerConflict = errors.New("ledger write conflict")

	// ErrEmptyRankTable is returned when rank resolution is requested but no
	// ranks are configured. Fatal: writing ledger data that cannot be ranked
	// is refused rather than leaving users silently unranked.
	ErrEmptyRankTable = errors.New("rank table has no entries")

	// ErrInvalidRankTable is returned when the configured tiers violate the
	// table invariant (duplicate thresholds, non-increasing levels, or a
	// lowest level whose threshold is not zero).
	ErrInvalidRankTable = errors.New("invalid rank table")

	// ErrDuplicateCompletion is returned when a completion with the same ID
	// was already ingested. Expected behavior for event redelivery.
	ErrDuplicateCompletion = errors.New("completion already ingested")

	// ErrInvalidCompletion is returned for malformed completion records
	// (missing user, negative points).
	ErrInvalidCompletion = errors.New("invalid completion record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError reports an exhausted upsert retry loop.
type ConflictError struct {
	UserID   UserID
	Period   PeriodKey
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger write conflict for user %s period %s after %d attempts",
		e.UserID, e.Period, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrLedgerConflict }

// RankTableError reports which invariant a configured table violates.
type RankTableError struct {
	Reason string
	Level  int
}

func (e *RankTableError) Error() string {
	return fmt.Sprintf("invalid rank table at level %d: %s", e.Level, e.Reason)
}

func (e *RankTableError) Unwrap() error { return ErrInvalidRankTable }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerConflict)
}

// IsClientError returns true if the error is due to invalid input; the
// delivery layer should dead-letter rather than retry these.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrInvalidCompletion) ||
		errors.Is(err, ErrDuplicateCompletion)
}

// IsNotFound returns true if the error indicates a missing reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrRankNotFound)
}
