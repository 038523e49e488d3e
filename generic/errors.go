/*
errors.go - Centralized error types for the generic engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages should wrap these errors with additional context.

ERROR CATEGORIES:
  1. Ledger errors - State log persistence failures
  2. Store errors - Database-level failures

USAGE:
  Domain packages can wrap generic errors:

    if errors.Is(err, generic.ErrUnknownEntityKind) {
        return fmt.Errorf("payment ledger: %w", err)
    }

SEE ALSO:
  - ledger.go: Uses these errors
  - store.go: Uses these errors
  - payments/errors.go: Domain errors that wrap these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateEntry is returned when an entry with the same ID already exists.
	ErrDuplicateEntry = errors.New("duplicate state log entry")

	// ErrInvalidEntry is returned when an entry is missing its entity, flow or state.
	ErrInvalidEntry = errors.New("invalid state log entry")

	// ErrUnknownEntityKind is returned when a store has no log for an entity kind.
	ErrUnknownEntityKind = errors.New("unknown entity kind")

	// ErrEntityNotFound is returned when a referenced entity doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidEntryError names the missing part of a rejected entry.
type InvalidEntryError struct {
	Entity EntityRef
	Flow   FlowID
	Field  string
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid state log entry for %s in flow %q: missing %s",
		e.Entity, e.Flow, e.Field)
}

func (e *InvalidEntryError) Unwrap() error {
	return ErrInvalidEntry
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
