package recurrence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// jan27Evening is the anchor the mobile client's own fixtures start from.
func jan27Evening() time.Time {
	return time.Date(2022, time.January, 27, 22, 31, 0, 0, time.UTC)
}

// sequence applies Next n times, threading each result back in.
func sequence(t *testing.T, spec recurrence.Spec, from time.Time, n int) []time.Time {
	t.Helper()
	var got []time.Time
	current := from
	for i := 0; i < n; i++ {
		next, err := recurrence.Next(spec, current)
		require.NoError(t, err)
		got = append(got, next)
		current = next
	}
	return got
}

// =============================================================================
// FIXTURE SEQUENCES
// =============================================================================

func TestNext_Daily_NineStepsFromEvening(t *testing.T) {
	// GIVEN: A daily recurrence created at 2022-01-27 22:31
	// WHEN: Advancing nine times
	// THEN: Every date from Jan 28 to Feb 5 at midnight, one per call

	got := sequence(t, recurrence.EveryDays(1), jan27Evening(), 9)

	want := []time.Time{
		date(2022, 1, 28), date(2022, 1, 29), date(2022, 1, 30), date(2022, 1, 31),
		date(2022, 2, 1), date(2022, 2, 2), date(2022, 2, 3), date(2022, 2, 4), date(2022, 2, 5),
	}
	assert.Equal(t, want, got)
}

func TestNext_CustomFromStart_FirstOfEachMonth(t *testing.T) {
	got := sequence(t, recurrence.DayOfMonth(recurrence.FromStart, 1), jan27Evening(), 4)

	assert.Equal(t, []time.Time{
		date(2022, 2, 1), date(2022, 3, 1), date(2022, 4, 1), date(2022, 5, 1),
	}, got)
}

func TestNext_CustomFromEnd_LastDayOfEachMonth(t *testing.T) {
	// GIVEN: "last day of the month" anchored on Jan 27
	// THEN: Jan 31 is still ahead, so it comes first; then month ends follow

	got := sequence(t, recurrence.DayOfMonth(recurrence.FromEnd, 1), jan27Evening(), 4)

	assert.Equal(t, []time.Time{
		date(2022, 1, 31), date(2022, 2, 28), date(2022, 3, 31), date(2022, 4, 30),
	}, got)
}

func TestNext_SelectedWeekdays_NearestQualifyingDay(t *testing.T) {
	spec := recurrence.OnWeekdays(time.Sunday, time.Tuesday, time.Wednesday, time.Saturday)

	got := sequence(t, spec, date(2022, 1, 27), 5)

	assert.Equal(t, []time.Time{
		date(2022, 1, 29), // Sat
		date(2022, 1, 30), // Sun
		date(2022, 2, 1),  // Tue
		date(2022, 2, 2),  // Wed
		date(2022, 2, 5),  // Sat
	}, got)
}

func TestNext_SelectedWeekdays_AllDaysIsTomorrow(t *testing.T) {
	spec := recurrence.OnWeekdays(recurrence.WeekdaysFrom(time.Monday)...)

	next, err := recurrence.Next(spec, jan27Evening())

	require.NoError(t, err)
	assert.Equal(t, date(2022, 1, 28), next)
}

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

func TestNext_StepSize_AcrossBoundaries(t *testing.T) {
	tests := []struct {
		name string
		spec recurrence.Spec
		from time.Time
		want time.Time
	}{
		{"daily into leap day", recurrence.EveryDays(1), date(2024, 2, 28), date(2024, 2, 29)},
		{"daily over year end", recurrence.EveryDays(3), date(2021, 12, 30), date(2022, 1, 2)},
		{"weekly over leap day", recurrence.EveryWeeks(1), date(2024, 2, 26), date(2024, 3, 4)},
		{"biweekly over year end", recurrence.EveryWeeks(2), date(2022, 12, 25), date(2023, 1, 8)},
		{"monthly keeps day", recurrence.EveryMonths(1), date(2022, 1, 15), date(2022, 2, 15)},
		{"quarterly", recurrence.EveryMonths(3), date(2022, 11, 10), date(2023, 2, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := recurrence.Next(tt.spec, tt.from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Monthly_OverflowFollowsCalendar(t *testing.T) {
	// Feb 31 doesn't exist: the overflow rolls into March.
	next, err := recurrence.Next(recurrence.EveryMonths(1), date(2022, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2022, 3, 3), next)

	next, err = recurrence.Next(recurrence.EveryMonths(1), date(2024, 1, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 2), next, "leap year February has 29 days")
}

func TestNext_CustomFromEnd_SecondToLast(t *testing.T) {
	spec := recurrence.DayOfMonth(recurrence.FromEnd, 2)

	leap, err := recurrence.Next(spec, date(2024, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 28), leap)

	common, err := recurrence.Next(spec, date(2023, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, date(2023, 2, 27), common)
}

func TestNext_CustomFromStart_SameDayIsNotAfter(t *testing.T) {
	next, err := recurrence.Next(recurrence.DayOfMonth(recurrence.FromStart, 15), date(2022, 3, 15))

	require.NoError(t, err)
	assert.Equal(t, date(2022, 4, 15), next)
}

func TestNext_CustomFromStart_DecemberWrapsYear(t *testing.T) {
	next, err := recurrence.Next(recurrence.DayOfMonth(recurrence.FromStart, 5), date(2022, 12, 20))

	require.NoError(t, err)
	assert.Equal(t, date(2023, 1, 5), next)
}

func TestNext_KeepsLocationAndDropsTime(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	from := time.Date(2022, time.March, 12, 23, 45, 0, 0, loc)

	next, err := recurrence.Next(recurrence.EveryDays(1), from)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, time.March, 13, 0, 0, 0, 0, loc), next)
	assert.Equal(t, loc, next.Location())
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestNext_Monotonic(t *testing.T) {
	// GIVEN: Every kind of spec and a year's worth of start dates
	// THEN: Next is always strictly later than the start's calendar day

	specs := []recurrence.Spec{
		recurrence.EveryDays(1),
		recurrence.EveryDays(5),
		recurrence.EveryWeeks(1),
		recurrence.EveryMonths(1),
		recurrence.EveryMonths(7),
		recurrence.OnWeekdays(time.Monday),
		recurrence.OnWeekdays(time.Friday, time.Sunday),
		recurrence.DayOfMonth(recurrence.FromStart, 1),
		recurrence.DayOfMonth(recurrence.FromStart, 28),
		recurrence.DayOfMonth(recurrence.FromEnd, 1),
		recurrence.DayOfMonth(recurrence.FromEnd, 28),
	}

	for _, spec := range specs {
		for d := date(2023, 12, 1); d.Before(date(2025, 1, 31)); d = d.AddDate(0, 0, 1) {
			from := d.Add(13*time.Hour + 7*time.Minute)
			next, err := recurrence.Next(spec, from)
			require.NoError(t, err)
			if !next.After(d) {
				t.Fatalf("%s from %s: got %s, want strictly later", spec, from, next)
			}
			assert.Equal(t, finance.DateOnly(next), next, "result must be midnight")
		}
	}
}

func TestNext_DailyWeeklyExactDistance(t *testing.T) {
	for n := 1; n <= 4; n++ {
		for d := date(2023, 12, 20); d.Before(date(2024, 3, 10)); d = d.AddDate(0, 0, 1) {
			daily, err := recurrence.Next(recurrence.EveryDays(n), d)
			require.NoError(t, err)
			assert.Equal(t, n, finance.DaysBetween(d, daily))

			weekly, err := recurrence.Next(recurrence.EveryWeeks(n), d)
			require.NoError(t, err)
			assert.Equal(t, 7*n, finance.DaysBetween(d, weekly))
		}
	}
}

// =============================================================================
// INVALID SPECS
// =============================================================================

func TestNext_InvalidSpecs_FailInsteadOfDefaulting(t *testing.T) {
	tests := []struct {
		name  string
		spec  recurrence.Spec
		field string
	}{
		{"zero interval", recurrence.EveryDays(0), "interval"},
		{"negative interval", recurrence.EveryWeeks(-2), "interval"},
		{"empty weekdays", recurrence.OnWeekdays(), "weekdays"},
		{"custom day zero", recurrence.DayOfMonth(recurrence.FromStart, 0), "day"},
		{"custom day 29", recurrence.DayOfMonth(recurrence.FromEnd, 29), "day"},
		{"custom without anchor", recurrence.Spec{Kind: recurrence.Custom, Day: 3}, "anchor"},
		{"none", recurrence.Never(), "kind"},
		{"unknown kind", recurrence.Spec{Kind: "yearly", Interval: 1}, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recurrence.Next(tt.spec, jan27Evening())

			require.Error(t, err)
			assert.True(t, errors.Is(err, finance.ErrInvalidRecurrenceSpec))
			var specErr *finance.InvalidRecurrenceSpecError
			require.ErrorAs(t, err, &specErr)
			assert.Equal(t, tt.field, specErr.Field)
		})
	}
}

func TestOnWeekdays_DedupesAndSorts(t *testing.T) {
	spec := recurrence.OnWeekdays(time.Saturday, time.Monday, time.Saturday)

	assert.Equal(t, []time.Weekday{time.Monday, time.Saturday}, spec.Weekdays)
}

// =============================================================================
// SCHEDULE HELPERS
// =============================================================================

func TestUpcoming_MatchesRepeatedNext(t *testing.T) {
	spec := recurrence.DayOfMonth(recurrence.FromEnd, 1)

	got, err := recurrence.Upcoming(spec, jan27Evening(), 4)

	require.NoError(t, err)
	assert.Equal(t, sequence(t, spec, jan27Evening(), 4), got)
}

func TestDue_WeeklyUpToToday(t *testing.T) {
	// GIVEN: Weekly schedule last run on Jan 1
	// WHEN: Sweeping on Jan 22 in the morning
	// THEN: Jan 8, 15 and 22 are due; Jan 22 counts although it's only 09:00

	got, err := recurrence.Due(recurrence.EveryWeeks(1),
		time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, time.January, 22, 9, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2026, 1, 8), date(2026, 1, 15), date(2026, 1, 22)}, got)
}

func TestDue_NothingDue(t *testing.T) {
	got, err := recurrence.Due(recurrence.EveryMonths(1), date(2026, 1, 10), date(2026, 2, 9))

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDue_CappedForLongIdleSchedules(t *testing.T) {
	got, err := recurrence.Due(recurrence.EveryDays(1), date(2000, 1, 1), date(2026, 1, 1))

	require.NoError(t, err)
	assert.Len(t, got, recurrence.MaxDueOccurrences)
}

func TestStartOfWeek_DependsOnLocale(t *testing.T) {
	thursday := jan27Evening()

	assert.Equal(t, date(2022, 1, 24), recurrence.StartOfWeek(thursday, time.Monday))
	assert.Equal(t, date(2022, 1, 23), recurrence.StartOfWeek(thursday, time.Sunday))
	assert.Equal(t, date(2022, 1, 27), recurrence.StartOfWeek(thursday, time.Thursday))
}

func TestPrevious_Custom(t *testing.T) {
	prev, err := recurrence.Previous(recurrence.DayOfMonth(recurrence.FromEnd, 1), date(2022, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2022, 1, 31), prev)

	prev, err = recurrence.Previous(recurrence.DayOfMonth(recurrence.FromStart, 15), date(2022, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2022, 1, 15), prev)

	prev, err = recurrence.Previous(recurrence.DayOfMonth(recurrence.FromStart, 15), date(2022, 2, 15))
	require.NoError(t, err)
	assert.Equal(t, date(2022, 2, 15), prev)
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "every day", recurrence.EveryDays(1).String())
	assert.Equal(t, "every 2 weeks", recurrence.EveryWeeks(2).String())
	assert.Equal(t, "last day of every month", recurrence.DayOfMonth(recurrence.FromEnd, 1).String())
	assert.Equal(t, "2nd day of every month", recurrence.DayOfMonth(recurrence.FromStart, 2).String())
	assert.Equal(t, "every Mon, Fri", recurrence.OnWeekdays(time.Friday, time.Monday).String())
}
