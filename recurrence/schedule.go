package recurrence

import (
	"time"

	"github.com/walletwise/budget-engine/finance"
)

// MaxDueOccurrences bounds a single Due call. A daily schedule left alone for
// more than a few years is cut off here; the next call resumes from the last
// returned date.
const MaxDueOccurrences = 1000

// Upcoming returns the next n occurrences after from.
func Upcoming(spec Spec, from time.Time, n int) ([]time.Time, error) {
	dates := make([]time.Time, 0, n)
	current := from
	for i := 0; i < n; i++ {
		next, err := Next(spec, current)
		if err != nil {
			return nil, err
		}
		dates = append(dates, next)
		current = next
	}
	return dates, nil
}

// Due returns every occurrence strictly after anchor and on or before now's
// calendar day, oldest first. Comparison is date-only.
func Due(spec Spec, anchor, now time.Time) ([]time.Time, error) {
	today := finance.DateOnly(now)
	var dates []time.Time
	current := anchor
	for len(dates) < MaxDueOccurrences {
		next, err := Next(spec, current)
		if err != nil {
			return nil, err
		}
		if next.After(today) {
			break
		}
		dates = append(dates, next)
		current = next
	}
	return dates, nil
}

// StartOfWeek returns midnight of the first day of t's week, where weeks
// begin on firstWeekday (locale dependent: Sunday in the US, Monday in most
// of Europe).
func StartOfWeek(t time.Time, firstWeekday time.Weekday) time.Time {
	day := finance.DateOnly(t)
	offset := (int(day.Weekday()) - int(firstWeekday) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekdaysFrom lists the seven weekdays starting at firstWeekday.
func WeekdaysFrom(firstWeekday time.Weekday) []time.Weekday {
	days := make([]time.Weekday, 7)
	for i := range days {
		days[i] = time.Weekday((int(firstWeekday) + i) % 7)
	}
	return days
}
