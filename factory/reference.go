/*
Package factory provides JSON to Go conversion of the pipeline's reference data.

PURPOSE:
  Converts a JSON reference data document into the effective-dated maximum
  weekly benefit table and the lookup registry used by the validators. This
  lets operators publish a new statutory cap or lookup value without a
  code change.

JSON SCHEMA:
  {
    "max_weekly_benefit_amounts": [
      {"effective_date": "2024-01-01", "amount": "1149.90"},
      {"effective_date": "2025-01-01", "amount": "1170.64"}
    ],
    "lookups": {
      "payment_method": [{"id": 1, "description": "Elec Funds Transfer"}],
      "account_type":   [{"id": 1, "description": "Checking"}]
    }
  }

  Both sections are optional. A missing section keeps the built-in values;
  a lookup kind present in "lookups" replaces that kind's whole table.

USAGE:
  factory := NewReferenceFactory()
  data, err := factory.LoadFile(cfg.MaxWeeklyBenefitFile)
  service := payments.NewService(store, payments.Options{
      MaxWeekly: data.MaxWeeklyTable(),
      Validator: payments.NewValidator(data.Lookups),
  })

SEE ALSO:
  - payments/maxweekly_table.go: EffectiveDatedTable
  - payments/lookup.go: LookupRegistry
  - cmd/server/main.go: Loads MAX_WEEKLY_BENEFIT_TABLE at startup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
	"github.com/warp/payment-reconciler/payments"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ReferenceDataJSON is the JSON representation of the reference data.
type ReferenceDataJSON struct {
	MaxWeeklyBenefitAmounts []MaxWeeklyBenefitJSON                         `json:"max_weekly_benefit_amounts,omitempty"`
	Lookups                 map[payments.LookupKind][]payments.LookupEntry `json:"lookups,omitempty"`
}

// MaxWeeklyBenefitJSON is one effective-dated cap. Amount is a string so
// cents survive the round trip exactly.
type MaxWeeklyBenefitJSON struct {
	EffectiveDate string `json:"effective_date"` // YYYY-MM-DD
	Amount        string `json:"amount"`
}

// ReferenceData is the parsed, validated reference data.
type ReferenceData struct {
	MaxWeeklyBenefitAmounts []payments.MaxWeeklyBenefitAmount
	Lookups                 *payments.LookupRegistry
}

// MaxWeeklyTable builds the effective-dated cap table.
func (d *ReferenceData) MaxWeeklyTable() *payments.EffectiveDatedTable {
	return payments.NewEffectiveDatedTable(d.MaxWeeklyBenefitAmounts)
}

// =============================================================================
// REFERENCE FACTORY
// =============================================================================

// ReferenceFactory converts JSON reference data to Go structs.
type ReferenceFactory struct{}

func NewReferenceFactory() *ReferenceFactory {
	return &ReferenceFactory{}
}

// Defaults returns the built-in reference data.
func (f *ReferenceFactory) Defaults() *ReferenceData {
	return &ReferenceData{
		MaxWeeklyBenefitAmounts: payments.DefaultMaxWeeklyBenefitAmounts(),
		Lookups:                 payments.DefaultLookupRegistry(),
	}
}

// LoadFile reads path, or returns the defaults when path is empty.
func (f *ReferenceFactory) LoadFile(path string) (*ReferenceData, error) {
	if path == "" {
		return f.Defaults(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference data %s: %w", path, err)
	}
	return f.ParseReferenceData(string(raw))
}

// ParseReferenceData parses a JSON string into ReferenceData.
func (f *ReferenceFactory) ParseReferenceData(jsonStr string) (*ReferenceData, error) {
	var rj ReferenceDataJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse reference data JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts ReferenceDataJSON to ReferenceData.
func (f *ReferenceFactory) FromJSON(rj ReferenceDataJSON) (*ReferenceData, error) {
	data := f.Defaults()

	if len(rj.MaxWeeklyBenefitAmounts) > 0 {
		amounts, err := parseMaxWeeklyBenefitAmounts(rj.MaxWeeklyBenefitAmounts)
		if err != nil {
			return nil, err
		}
		data.MaxWeeklyBenefitAmounts = amounts
	}

	if len(rj.Lookups) > 0 {
		tables := payments.DefaultLookups()
		for kind, entries := range rj.Lookups {
			if !knownLookupKind(kind) {
				return nil, fmt.Errorf("unknown lookup kind: %s", kind)
			}
			tables[kind] = entries
		}
		data.Lookups = payments.NewLookupRegistry(tables)
	}

	return data, nil
}

// ToJSON converts ReferenceData to ReferenceDataJSON.
func (f *ReferenceFactory) ToJSON(data *ReferenceData) ReferenceDataJSON {
	rj := ReferenceDataJSON{Lookups: make(map[payments.LookupKind][]payments.LookupEntry)}
	for _, a := range data.MaxWeeklyBenefitAmounts {
		rj.MaxWeeklyBenefitAmounts = append(rj.MaxWeeklyBenefitAmounts, MaxWeeklyBenefitJSON{
			EffectiveDate: a.EffectiveDate.String(),
			Amount:        a.Amount.StringFixed(2),
		})
	}
	for _, kind := range lookupKinds {
		rj.Lookups[kind] = data.Lookups.Entries(kind)
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

var lookupKinds = []payments.LookupKind{
	payments.LookupPaymentMethod,
	payments.LookupAccountType,
	payments.LookupState,
}

func knownLookupKind(kind payments.LookupKind) bool {
	for _, k := range lookupKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func parseMaxWeeklyBenefitAmounts(rows []MaxWeeklyBenefitJSON) ([]payments.MaxWeeklyBenefitAmount, error) {
	seen := make(map[string]bool, len(rows))
	amounts := make([]payments.MaxWeeklyBenefitAmount, 0, len(rows))
	for _, row := range rows {
		date, ok := generic.ParseDate(row.EffectiveDate)
		if !ok {
			return nil, fmt.Errorf("invalid effective_date: %q", row.EffectiveDate)
		}
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount for %s: %w", row.EffectiveDate, err)
		}
		if !amount.IsPositive() {
			return nil, fmt.Errorf("amount for %s must be positive, got %s", row.EffectiveDate, row.Amount)
		}
		if seen[date.String()] {
			return nil, fmt.Errorf("duplicate effective_date: %s", date)
		}
		seen[date.String()] = true
		amounts = append(amounts, payments.MaxWeeklyBenefitAmount{EffectiveDate: date, Amount: amount})
	}
	return amounts, nil
}
