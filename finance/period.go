package finance

import "time"

// =============================================================================
// PERIOD - Contiguous date range a budget's spend is tracked against
// =============================================================================

// Period is an inclusive [Start, End] range. End is the last whole second of
// the period's last day (23:59:59), so a period never overlaps the next one.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t lies within the period.
// Sub-second instants after End's 23:59:59 still belong to the same day.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End.Add(time.Second))
}

// Valid reports whether the period is well formed.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && !p.End.Before(p.Start)
}

// Next day after the period ends, at midnight.
func (p Period) NextStart() time.Time {
	return DateOnly(p.End).AddDate(0, 0, 1)
}

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================
// All helpers keep the location of their input: dates are calendar dates in
// the user's local calendar, never converted to UTC.

// DateOnly drops the time-of-day component.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59 on t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}

// DaysIn returns the number of days in the given month, leap years included.
func DaysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from a to b, ignoring DST shifts.
func DaysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
