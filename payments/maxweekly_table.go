package payments

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/payment-reconciler/generic"
)

// =============================================================================
// MAXIMUM WEEKLY BENEFIT - Effective-dated statutory cap
// =============================================================================

// MaxWeeklyBenefitAmount is one row of the effective-dated table.
type MaxWeeklyBenefitAmount struct {
	EffectiveDate generic.TimePoint
	Amount        decimal.Decimal
}

// MaxWeeklyBenefitTable resolves the cap in force on a date.
type MaxWeeklyBenefitTable interface {
	MaxWeeklyAmount(asOf generic.TimePoint) (decimal.Decimal, error)
}

// EffectiveDatedTable picks the latest entry effective on or before the date.
type EffectiveDatedTable struct {
	entries []MaxWeeklyBenefitAmount // ascending by EffectiveDate
}

func NewEffectiveDatedTable(entries []MaxWeeklyBenefitAmount) *EffectiveDatedTable {
	sorted := append([]MaxWeeklyBenefitAmount(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveDate.Before(sorted[j].EffectiveDate)
	})
	return &EffectiveDatedTable{entries: sorted}
}

// MaxWeeklyAmount returns a *MaxWeeklyAmountError (ErrNoMaxWeeklyAmount)
// for dates before the first entry.
func (t *EffectiveDatedTable) MaxWeeklyAmount(asOf generic.TimePoint) (decimal.Decimal, error) {
	// index of the first entry effective after asOf
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].EffectiveDate.After(asOf)
	})
	if i == 0 {
		return decimal.Zero, &MaxWeeklyAmountError{AsOf: asOf}
	}
	return t.entries[i-1].Amount, nil
}

func (t *EffectiveDatedTable) Entries() []MaxWeeklyBenefitAmount {
	return append([]MaxWeeklyBenefitAmount(nil), t.entries...)
}

// DefaultMaxWeeklyBenefitAmounts are the published statutory maximums.
func DefaultMaxWeeklyBenefitAmounts() []MaxWeeklyBenefitAmount {
	return []MaxWeeklyBenefitAmount{
		{EffectiveDate: generic.NewTimePoint(2021, 1, 1), Amount: decimal.RequireFromString("850.00")},
		{EffectiveDate: generic.NewTimePoint(2022, 1, 1), Amount: decimal.RequireFromString("1084.31")},
		{EffectiveDate: generic.NewTimePoint(2023, 1, 1), Amount: decimal.RequireFromString("1129.82")},
		{EffectiveDate: generic.NewTimePoint(2024, 1, 1), Amount: decimal.RequireFromString("1149.90")},
		{EffectiveDate: generic.NewTimePoint(2025, 1, 1), Amount: decimal.RequireFromString("1170.64")},
	}
}
