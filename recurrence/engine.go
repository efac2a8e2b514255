package recurrence

import (
	"time"

	"github.com/walletwise/budget-engine/finance"
)

// =============================================================================
// NEXT - The recurrence engine
// =============================================================================

// Next returns the earliest date strictly after from's calendar day that
// satisfies spec, at midnight in from's location.
func Next(spec Spec, from time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}

	day := finance.DateOnly(from)

	switch spec.Kind {
	case Daily:
		return day.AddDate(0, 0, spec.Interval), nil

	case Weekly:
		return day.AddDate(0, 0, 7*spec.Interval), nil

	case Monthly:
		// AddDate normalizes overflow: Jan 31 + 1 month lands in early March.
		return day.AddDate(0, spec.Interval, 0), nil

	case SelectedWeekdays:
		for i := 1; i <= 7; i++ {
			candidate := day.AddDate(0, 0, i)
			if spec.Includes(candidate.Weekday()) {
				return candidate, nil
			}
		}
		// Unreachable once Validate accepted a non-empty weekday set.
		return time.Time{}, &finance.InvalidRecurrenceSpecError{Field: "weekdays", Reason: "matched no day"}

	default: // Custom
		return nextCustom(spec, day), nil
	}
}

// nextCustom scans month by month starting with day's own month. Day <= 28
// guarantees a match in the current or the following month.
func nextCustom(spec Spec, day time.Time) time.Time {
	year, month := day.Year(), day.Month()
	for {
		candidate := customDayIn(spec, year, month, day.Location())
		if candidate.After(day) {
			return candidate
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
}

// customDayIn returns the spec's day within the given month.
func customDayIn(spec Spec, year int, month time.Month, loc *time.Location) time.Time {
	d := spec.Day
	if spec.Anchor == FromEnd {
		d = finance.DaysIn(year, month, loc) - (spec.Day - 1)
	}
	return time.Date(year, month, d, 0, 0, 0, 0, loc)
}

// Previous returns the latest occurrence on or before t's calendar day for
// Custom specs, and t's own day otherwise. Used to align the first period of
// a new budget.
func Previous(spec Spec, t time.Time) (time.Time, error) {
	if err := spec.Validate(); err != nil {
		return time.Time{}, err
	}
	day := finance.DateOnly(t)
	if spec.Kind != Custom {
		return day, nil
	}
	candidate := customDayIn(spec, day.Year(), day.Month(), day.Location())
	if candidate.After(day) {
		prev := day.AddDate(0, 0, -day.Day()) // last day of previous month
		candidate = customDayIn(spec, prev.Year(), prev.Month(), day.Location())
	}
	return candidate, nil
}
