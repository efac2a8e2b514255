/*
Package recurrence computes the next scheduled date of a recurring transaction.

PURPOSE:
  Given a recurrence configuration and the previous occurrence, compute the
  next one. The engine is a pure function of (Spec, date): it never reads the
  clock and never mutates its inputs, so callers materializing several future
  occurrences thread each result back in explicitly.

KINDS:
  Daily            every N days
  Weekly           every 7xN days
  Monthly          every N calendar months (day overflow rolls forward)
  SelectedWeekdays the nearest following day whose weekday is selected
  Custom           the Dth day of a month, counted from its start or its end

CALENDAR:
  Dates are calendar dates in the location of the input time. Every result is
  midnight; the time of day of the input is discarded. Month arithmetic is
  real calendar arithmetic (month lengths, leap years), never 30-day steps.

EXAMPLE:
  spec := recurrence.DayOfMonth(recurrence.FromEnd, 1)
  next, err := recurrence.Next(spec, time.Date(2022, 1, 27, 22, 31, 0, 0, loc))
  // next == 2022-01-31 00:00

SEE ALSO:
  - engine.go: Next
  - schedule.go: Upcoming, Due, StartOfWeek
  - budget/reconciler.go: Uses Next for budget period boundaries
*/
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/walletwise/budget-engine/finance"
)

// =============================================================================
// SPEC - Tagged union of recurrence kinds
// =============================================================================

type Kind string

const (
	None             Kind = "none"
	Daily            Kind = "daily"
	Weekly           Kind = "weekly"
	Monthly          Kind = "monthly"
	SelectedWeekdays Kind = "weekdays"
	Custom           Kind = "custom"
)

// Anchor selects which end of the month a Custom day is counted from.
type Anchor string

const (
	FromStart Anchor = "from_start" // Dth day of the month
	FromEnd   Anchor = "from_end"   // Dth-to-last day of the month
)

// MaxCustomDay keeps custom days valid in every month, February included.
const MaxCustomDay = 28

// Spec is a recurrence configuration. Only the fields of its Kind are read:
//
//	Daily/Weekly/Monthly -> Interval
//	SelectedWeekdays     -> Weekdays
//	Custom               -> Anchor, Day
type Spec struct {
	Kind     Kind
	Interval int
	Weekdays []time.Weekday
	Anchor   Anchor
	Day      int
}

func Never() Spec { return Spec{Kind: None} }

func EveryDays(n int) Spec   { return Spec{Kind: Daily, Interval: n} }
func EveryWeeks(n int) Spec  { return Spec{Kind: Weekly, Interval: n} }
func EveryMonths(n int) Spec { return Spec{Kind: Monthly, Interval: n} }

// OnWeekdays builds a SelectedWeekdays spec. Duplicates are dropped and the
// days are kept in Sunday..Saturday order.
func OnWeekdays(days ...time.Weekday) Spec {
	seen := make(map[time.Weekday]bool, len(days))
	var set []time.Weekday
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			set = append(set, d)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return Spec{Kind: SelectedWeekdays, Weekdays: set}
}

// DayOfMonth builds a Custom spec.
func DayOfMonth(anchor Anchor, day int) Spec {
	return Spec{Kind: Custom, Anchor: anchor, Day: day}
}

// IsRecurring reports whether the spec produces occurrences at all.
func (s Spec) IsRecurring() bool { return s.Kind != None && s.Kind != "" }

// Includes reports whether wd is one of the selected weekdays.
func (s Spec) Includes(wd time.Weekday) bool {
	for _, d := range s.Weekdays {
		if d == wd {
			return true
		}
	}
	return false
}

// Validate checks the fields used by the spec's kind. It never repairs a spec.
func (s Spec) Validate() error {
	switch s.Kind {
	case Daily, Weekly, Monthly:
		if s.Interval < 1 {
			return &finance.InvalidRecurrenceSpecError{
				Field: "interval", Reason: fmt.Sprintf("must be >= 1, got %d", s.Interval),
			}
		}
	case SelectedWeekdays:
		if len(s.Weekdays) == 0 {
			return &finance.InvalidRecurrenceSpecError{Field: "weekdays", Reason: "must not be empty"}
		}
		for _, d := range s.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return &finance.InvalidRecurrenceSpecError{
					Field: "weekdays", Reason: fmt.Sprintf("unknown weekday %d", d),
				}
			}
		}
	case Custom:
		if s.Anchor != FromStart && s.Anchor != FromEnd {
			return &finance.InvalidRecurrenceSpecError{
				Field: "anchor", Reason: fmt.Sprintf("unknown anchor %q", s.Anchor),
			}
		}
		if s.Day < 1 || s.Day > MaxCustomDay {
			return &finance.InvalidRecurrenceSpecError{
				Field: "day", Reason: fmt.Sprintf("must be in 1..%d, got %d", MaxCustomDay, s.Day),
			}
		}
	case None:
		return &finance.InvalidRecurrenceSpecError{Field: "kind", Reason: "is none, nothing recurs"}
	default:
		return &finance.InvalidRecurrenceSpecError{
			Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s.Kind),
		}
	}
	return nil
}

// String renders a short human description, e.g. "every 2 weeks".
func (s Spec) String() string {
	switch s.Kind {
	case Daily:
		return plural(s.Interval, "day")
	case Weekly:
		return plural(s.Interval, "week")
	case Monthly:
		return plural(s.Interval, "month")
	case SelectedWeekdays:
		names := make([]string, len(s.Weekdays))
		for i, d := range s.Weekdays {
			names[i] = d.String()[:3]
		}
		return "every " + strings.Join(names, ", ")
	case Custom:
		if s.Anchor == FromEnd {
			if s.Day == 1 {
				return "last day of every month"
			}
			return fmt.Sprintf("%s-to-last day of every month", ordinal(s.Day))
		}
		return fmt.Sprintf("%s day of every month", ordinal(s.Day))
	default:
		return "never"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
