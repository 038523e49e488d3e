/*
store.go - Persistence interface for the state log

PURPOSE:
  Defines the interface between the state ledger and the database.
  The Store handles persistence while maintaining append-only semantics.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Store:   State log persistence (append, latest, history, current-state scan)
  TxStore: Transactional operations (one batch = one transaction)

APPEND-ONLY CONTRACT:
  The Store interface enforces append-only semantics:
  - AppendState(): Single entry write
  - NO Update() or Delete() methods exist

ONE LOG PER ENTITY KIND:
  Each EntityKind ("payment", "bank_account") is a flow family with its own
  log. Stores reject kinds they do not know with ErrUnknownEntityKind.

ATOMIC BATCHES:
  WithTx() ensures all-or-nothing semantics. A fatal error anywhere in an
  extract batch rolls back every entry written for that batch.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for state log persistence (append-only)
// =============================================================================

// Store handles persistence of state log entries.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete. Ever.
type Store interface {
	// AppendState persists an entry and returns it with Seq assigned.
	// This is the ONLY write operation.
	AppendState(ctx context.Context, entry StateLogEntry) (StateLogEntry, error)

	// LatestState returns the current entry for (entity, flow): latest
	// CreatedAt, ties broken by Seq. Returns nil when the entity never
	// entered the flow.
	LatestState(ctx context.Context, entity EntityRef, flow FlowID) (*StateLogEntry, error)

	// StateHistory returns every entry for (entity, flow), oldest first.
	StateHistory(ctx context.Context, entity EntityRef, flow FlowID) ([]StateLogEntry, error)

	// EntitiesInState returns the entities of a kind whose current entry
	// in flow is state, ordered by when they entered it.
	EntitiesInState(ctx context.Context, kind EntityKind, flow FlowID, state StateID) ([]EntityRef, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
