/*
Package generic provides the domain-agnostic state engine.

PURPOSE:
  This package contains the types and algorithms shared by every workflow
  in the reconciliation pipeline. Whether tracking a payment through
  validation and disbursement, or a bank account through prenote
  verification, the same append-only state ledger records each transition.

KEY CONCEPTS IN THIS FILE (types.go):
  - EntityRef: A typed reference to the entity a ledger entry belongs to
  - FlowID / StateID: Which workflow, and where in it, an entity is
  - StateLogEntry: An immutable ledger entry recording one state transition
  - Outcome: Structured payload describing why a transition happened

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only superseded
  2. Precision: Money uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing flows and states
  4. Auditability: Every transition carries an outcome and a link to the
     previous entry for the same (entity, flow)

USAGE:
  entry, err := ledger.Append(ctx,
      generic.EntityRef{Kind: "payment", ID: "pay-123"},
      "DELEGATED_PAYMENT",
      "DELEGATED_PAYMENT_POST_PROCESSING_CHECK",
      generic.Outcome{"message": "Success"},
  )

SEE ALSO:
  - ledger.go: State ledger interface and default implementation
  - store.go: Persistence interface
  - period.go: Date windows used by pay-period arithmetic
*/
package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type FlowID string
type StateID string

// EntityKind names the family of entity a ledger entry belongs to
// (e.g. "payment", "bank_account"). Stores keep one log per kind.
type EntityKind string

// EntityRef identifies one ledger subject.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

func (r EntityRef) String() string { return string(r.Kind) + ":" + r.ID }
func (r EntityRef) IsZero() bool   { return r.Kind == "" || r.ID == "" }

// =============================================================================
// STATE LOG ENTRY - Atomic record of one transition
// =============================================================================

// Outcome is the structured payload attached to a transition.
// Values must be JSON-encodable; persisted stores round-trip them as JSON.
type Outcome map[string]any

// String returns the value at key when it is a string.
func (o Outcome) String(key string) string {
	if o == nil {
		return ""
	}
	s, _ := o[key].(string)
	return s
}

// Bool returns the value at key when it is a bool.
func (o Outcome) Bool(key string) bool {
	if o == nil {
		return false
	}
	b, _ := o[key].(bool)
	return b
}

type StateLogEntry struct {
	ID         EntryID
	Entity     EntityRef
	Flow       FlowID
	State      StateID
	Outcome    Outcome
	CreatedAt  time.Time
	PreviousID EntryID // empty for the first entry of (Entity, Flow)

	// Seq is the store-assigned insertion order. Breaks CreatedAt ties.
	Seq int64
}

// Later reports whether e supersedes other as "current" for the same flow.
func (e StateLogEntry) Later(other StateLogEntry) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.Seq > other.Seq
	}
	return e.CreatedAt.After(other.CreatedAt)
}

// =============================================================================
// MONEY HELPERS
// =============================================================================

// ParseDecimal parses a signed decimal, tolerating surrounding whitespace.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func MustParseDecimal(s string) decimal.Decimal {
	d, ok := ParseDecimal(s)
	if !ok {
		return decimal.Zero
	}
	return d
}
