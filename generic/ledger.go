/*
ledger.go - Append-only state transition log

PURPOSE:
  The StateLedger is the immutable source of truth for where every entity
  is in every workflow. Each transition is appended; the "current state" of
  an entity in a flow is simply its latest entry. There's no separate
  status column that can get out of sync with the history.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. MONOTONIC: Within one (entity, flow), CreatedAt never goes backwards.
  3. LINKED: Each entry points at the previous entry for its (entity, flow).
  4. INDEPENDENT FLOWS: An entity's position in one flow says nothing about
     its position in another (a payment can be errored in processing and
     pending in writeback at the same time).

CORRECTIONS:
  If a transition was wrong, you don't edit it. Append a new entry with
  the corrected state; both remain in the history.

EXAMPLE FLOW:
  1. Extracted and valid:    DELEGATED_PAYMENT_POST_PROCESSING_CHECK
  2. Cap check passed:       DELEGATED_PAYMENT_STAGED_FOR_PAYMENT_AUDIT_REPORT_SAMPLING
  3. Writeback flow, later:  DELEGATED_ADD_TO_FINEOS_WRITEBACK -> DELEGATED_FINEOS_WRITEBACK_SENT

SEE ALSO:
  - store.go: Low-level persistence interface
  - payments/flows.go: The concrete flows and states of the payment pipeline
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STATE LEDGER - Append-only transition log
// =============================================================================

// StateLedger records transitions and answers "current state" queries.
//
// INVARIANTS:
//   - Append-only: No Update, No Delete. EVER.
//   - Current = latest by timestamp, ties broken by insertion order.
type StateLedger interface {
	// Append records a transition of entity into state within flow.
	// This is the ONLY write operation.
	Append(ctx context.Context, entity EntityRef, flow FlowID, state StateID, outcome Outcome) (StateLogEntry, error)

	// Current returns the latest entry for (entity, flow), or nil.
	Current(ctx context.Context, entity EntityRef, flow FlowID) (*StateLogEntry, error)

	// History returns every entry for (entity, flow), oldest first.
	History(ctx context.Context, entity EntityRef, flow FlowID) ([]StateLogEntry, error)

	// EntitiesInState returns entities whose current state in flow is state.
	EntitiesInState(ctx context.Context, kind EntityKind, flow FlowID, state StateID) ([]EntityRef, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultStateLedger struct {
	Store Store

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewStateLedger(store Store) *DefaultStateLedger {
	return &DefaultStateLedger{
		Store: store,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

func (l *DefaultStateLedger) Append(ctx context.Context, entity EntityRef, flow FlowID, state StateID, outcome Outcome) (StateLogEntry, error) {
	switch {
	case entity.IsZero():
		return StateLogEntry{}, &InvalidEntryError{Entity: entity, Flow: flow, Field: "entity"}
	case flow == "":
		return StateLogEntry{}, &InvalidEntryError{Entity: entity, Flow: flow, Field: "flow"}
	case state == "":
		return StateLogEntry{}, &InvalidEntryError{Entity: entity, Flow: flow, Field: "state"}
	}

	previous, err := l.Store.LatestState(ctx, entity, flow)
	if err != nil {
		return StateLogEntry{}, err
	}

	entry := StateLogEntry{
		ID:        EntryID(l.newID()),
		Entity:    entity,
		Flow:      flow,
		State:     state,
		Outcome:   outcome,
		CreatedAt: l.now().UTC(),
	}
	if previous != nil {
		entry.PreviousID = previous.ID
		// Clock skew must not reorder history.
		if entry.CreatedAt.Before(previous.CreatedAt) {
			entry.CreatedAt = previous.CreatedAt
		}
	}
	return l.Store.AppendState(ctx, entry)
}

func (l *DefaultStateLedger) Current(ctx context.Context, entity EntityRef, flow FlowID) (*StateLogEntry, error) {
	return l.Store.LatestState(ctx, entity, flow)
}

func (l *DefaultStateLedger) History(ctx context.Context, entity EntityRef, flow FlowID) ([]StateLogEntry, error) {
	return l.Store.StateHistory(ctx, entity, flow)
}

func (l *DefaultStateLedger) EntitiesInState(ctx context.Context, kind EntityKind, flow FlowID, state StateID) ([]EntityRef, error) {
	return l.Store.EntitiesInState(ctx, kind, flow, state)
}

func (l *DefaultStateLedger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *DefaultStateLedger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

// WithStore returns a ledger sharing this ledger's clock and id source but
// writing through store. Used to bind the ledger to a transaction.
func (l *DefaultStateLedger) WithStore(store Store) *DefaultStateLedger {
	return &DefaultStateLedger{Store: store, Now: l.Now, NewID: l.NewID}
}
