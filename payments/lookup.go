package payments

import (
	"sort"
	"strings"
)

// =============================================================================
// LOOKUP REGISTRY - Read-only reference data, built once at startup
// =============================================================================

type LookupKind string

const (
	LookupPaymentMethod LookupKind = "payment_method"
	LookupAccountType   LookupKind = "account_type"
	LookupState         LookupKind = "geo_state"
)

// LookupEntry is one row of a lookup table.
type LookupEntry struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// LookupRegistry answers "is this a valid value" for the enumerated
// fields. It is never mutated after construction; share it by reference.
type LookupRegistry struct {
	tables map[LookupKind]map[string]LookupEntry
}

// NewLookupRegistry indexes the given tables by description.
func NewLookupRegistry(tables map[LookupKind][]LookupEntry) *LookupRegistry {
	r := &LookupRegistry{tables: make(map[LookupKind]map[string]LookupEntry, len(tables))}
	for kind, entries := range tables {
		index := make(map[string]LookupEntry, len(entries))
		for _, e := range entries {
			index[e.Description] = e
		}
		r.tables[kind] = index
	}
	return r
}

// DefaultLookupRegistry is the registry built from DefaultLookups.
func DefaultLookupRegistry() *LookupRegistry {
	return NewLookupRegistry(DefaultLookups())
}

// Contains reports whether value is a member of the lookup table.
func (r *LookupRegistry) Contains(kind LookupKind, value string) bool {
	if r == nil {
		return false
	}
	_, ok := r.tables[kind][strings.TrimSpace(value)]
	return ok
}

// Entries returns the table for kind ordered by ID.
func (r *LookupRegistry) Entries(kind LookupKind) []LookupEntry {
	entries := make([]LookupEntry, 0, len(r.tables[kind]))
	for _, e := range r.tables[kind] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// =============================================================================
// DEFAULT TABLES
// =============================================================================

func DefaultLookups() map[LookupKind][]LookupEntry {
	return map[LookupKind][]LookupEntry{
		LookupPaymentMethod: {
			{ID: 1, Description: string(PaymentMethodACH)},
			{ID: 2, Description: string(PaymentMethodCheck)},
		},
		LookupAccountType: {
			{ID: 1, Description: string(AccountChecking)},
			{ID: 2, Description: string(AccountSavings)},
		},
		LookupState: stateEntries(),
	}
}

var stateCodes = []string{
	"AK", "AL", "AR", "AS", "AZ", "CA", "CO", "CT", "DC", "DE",
	"FL", "FM", "GA", "GU", "HI", "IA", "ID", "IL", "IN", "KS",
	"KY", "LA", "MA", "MD", "ME", "MH", "MI", "MN", "MO", "MP",
	"MS", "MT", "NC", "ND", "NE", "NH", "NJ", "NM", "NV", "NY",
	"OH", "OK", "OR", "PA", "PR", "PW", "RI", "SC", "SD", "TN",
	"TX", "UT", "VA", "VI", "VT", "WA", "WI", "WV", "WY",
	"AA", "AE", "AP",
}

func stateEntries() []LookupEntry {
	entries := make([]LookupEntry, len(stateCodes))
	for i, code := range stateCodes {
		entries[i] = LookupEntry{ID: i + 1, Description: code}
	}
	return entries
}
