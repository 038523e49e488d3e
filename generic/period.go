package generic

// =============================================================================
// PERIOD - Inclusive date window
// =============================================================================

// Period is an inclusive [Start, End] date window.
//
// Examples:
//   - One pay period: 2024-01-07 - 2024-01-13
//   - A payment covering two weeks: 2024-01-07 - 2024-01-20
type Period struct {
	Start TimePoint
	End   TimePoint
}

// WeekLength is the number of days in one pay period window.
const WeekLength = 7

// Days returns the inclusive number of days in the period.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// IsValid reports whether both bounds are set and End is not before Start.
func (p Period) IsValid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && !p.End.Before(p.Start)
}

// WithinOneWeek reports whether the period fits in a single pay period window.
func (p Period) WithinOneWeek() bool {
	return p.IsValid() && p.Days() <= WeekLength
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// Key returns a stable map key for the window.
func (p Period) Key() string {
	return p.Start.String() + "/" + p.End.String()
}
