package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// =============================================================================
// CURRENT PERIOD - Live period boundaries
// =============================================================================

// CurrentPeriod returns the period containing asOf, walking period boundaries
// forward from def.StartDate with recurrence.Next. One-off budgets return
// their explicit range. An asOf before StartDate yields the first period.
func CurrentPeriod(def Definition, asOf time.Time) (finance.Period, error) {
	if def.IsOneOff() {
		if def.EndDate.IsZero() {
			return finance.Period{}, invalid("one-off budget requires an end date")
		}
		return def.LivePeriod(), nil
	}

	start := def.StartDate
	for {
		p, err := periodFrom(def.Recurrence, start)
		if err != nil {
			return finance.Period{}, err
		}
		if !p.Contains(asOf) && p.Start.Before(asOf) {
			start = p.NextStart()
			continue
		}
		return p, nil
	}
}

// periodFrom returns the single period beginning at start.
func periodFrom(spec recurrence.Spec, start time.Time) (finance.Period, error) {
	next, err := recurrence.Next(spec, start)
	if err != nil {
		return finance.Period{}, err
	}
	return finance.Period{Start: start, End: finance.EndOfDay(next.AddDate(0, 0, -1))}, nil
}

// =============================================================================
// CLASSIFY - Live, History(i) or Unmatched
// =============================================================================

// Classify locates date in the live period or in exactly one history entry.
// Unmatched comes with a *finance.PeriodUnmatchedError; callers must not
// swallow it when InsideCoverage is set, since that's a gap in the history.
func Classify(def Definition, history []HistoryEntry, date time.Time) (PeriodRef, error) {
	if def.LivePeriod().Contains(date) {
		return Live(), nil
	}
	// Recent periods are the common case for back-dated edits.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Period().Contains(date) {
			return History(i), nil
		}
	}

	coverage := Coverage(def, history)
	return Unmatched(), &finance.PeriodUnmatchedError{
		BudgetID:       def.ID,
		Date:           date,
		Coverage:       coverage,
		InsideCoverage: coverage.Contains(date),
	}
}

// Coverage spans the earliest history start to the live period's end.
func Coverage(def Definition, history []HistoryEntry) finance.Period {
	p := def.LivePeriod()
	for _, h := range history {
		if h.StartDate.Before(p.Start) {
			p.Start = h.StartDate
		}
		if h.EndDate.After(p.End) {
			p.End = h.EndDate
		}
	}
	return p
}

// =============================================================================
// ADVANCE - Snapshot an elapsed period
// =============================================================================

// Advance snapshots the elapsed live period into a history entry and returns
// the carryover for the next period. It requires def.EndDate strictly before
// now, and the live period to start after the last history entry ends.
//
// With carryover enabled:
//
//	newCarryover = (Amount + Carryover) - currentSpent
//
// which may be negative. Otherwise, and for unlimited budgets, it's zero.
func Advance(def Definition, currentSpent finance.Amount, history []HistoryEntry, now time.Time) (HistoryEntry, finance.Amount, error) {
	if def.EndDate.IsZero() || !def.EndDate.Before(now) {
		return HistoryEntry{}, finance.Amount{}, &finance.PreconditionError{
			Op: "advance",
			Detail: fmt.Sprintf("period ending %s has not elapsed at %s",
				def.EndDate.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}
	if n := len(history); n > 0 && !history[n-1].EndDate.Before(def.StartDate) {
		return HistoryEntry{}, finance.Amount{}, &finance.PreconditionError{
			Op:     "advance",
			Detail: fmt.Sprintf("live period %s overlaps last history entry %s", def.LivePeriod(), history[n-1].Period()),
		}
	}

	entry := HistoryEntry{
		StartDate:  def.StartDate,
		EndDate:    def.EndDate,
		Budget:     copyAmount(def.Amount),
		Spent:      currentSpent,
		Carryover:  def.Carryover,
		Categories: append([]finance.CategoryID(nil), def.Categories...),
	}
	return entry, carryover(def, def.Amount, currentSpent), nil
}

func carryover(def Definition, budget *finance.Amount, spent finance.Amount) finance.Amount {
	if !def.CarryoverEnabled || budget == nil {
		return def.zero()
	}
	return budget.Add(def.Carryover).Sub(spent)
}

func copyAmount(a *finance.Amount) *finance.Amount {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// =============================================================================
// TRANSACTION DELTAS - Which period's spend changes, and by how much
// =============================================================================

// ApplyTransactionDelta returns the adjustment a transaction write causes.
// Only expenses in tracked categories apply; anything else yields an
// Adjustment with Applies false and no error. A tracked expense in another
// currency fails with a *finance.CurrencyMismatchError.
func ApplyTransactionDelta(def Definition, history []HistoryEntry, delta Delta) (Adjustment, error) {
	if delta.Type != finance.TxExpense || !def.Tracks(delta.Category) {
		return Adjustment{}, nil
	}
	if !def.InCurrency(delta.Amount.Currency) {
		return Adjustment{}, &finance.CurrencyMismatchError{
			BudgetID: def.ID,
			Budget:   def.Currency,
			Got:      delta.Amount.Currency,
		}
	}

	target, err := Classify(def, history, delta.Date)
	if err != nil {
		return Adjustment{Target: target}, err
	}
	return Adjustment{Target: target, Amount: delta.Amount, Applies: true}, nil
}

// SkipFunc is told about a delta dropped because it doesn't concern the budget.
type SkipFunc func(delta Delta, reason error)

// Skippable reports whether err only means the transaction doesn't concern
// the budget: dated outside its coverage, or in another currency. A gap
// inside the coverage is not skippable.
func Skippable(err error) bool {
	if errors.Is(err, finance.ErrCurrencyMismatch) {
		return true
	}
	return errors.Is(err, finance.ErrPeriodUnmatched) && !finance.IsIntegrityError(err)
}

// ApplyDeltas returns the merged adjustments of several deltas. Skippable
// deltas are dropped and passed to skip when it's not nil; any other error
// fails the whole set.
func ApplyDeltas(def Definition, history []HistoryEntry, skip SkipFunc, deltas ...Delta) ([]Adjustment, error) {
	adjs := make([]Adjustment, 0, len(deltas))
	for _, d := range deltas {
		adj, err := ApplyTransactionDelta(def, history, d)
		if err != nil {
			if !Skippable(err) {
				return nil, err
			}
			if skip != nil {
				skip(d, err)
			}
			continue
		}
		adjs = append(adjs, adj)
	}
	return Merge(adjs...), nil
}

// ApplyEdit treats an edit as removing before and adding after. Adjustments
// hitting the same period are merged; net-zero adjustments are dropped.
func ApplyEdit(def Definition, history []HistoryEntry, before, after finance.Transaction, skip SkipFunc) ([]Adjustment, error) {
	return ApplyDeltas(def, history, skip, Removed(before), Added(after))
}

// Merge sums applying adjustments per target, keeping first-seen order.
// Non-applying and net-zero adjustments are dropped.
func Merge(adjs ...Adjustment) []Adjustment {
	var out []Adjustment
	index := make(map[PeriodRef]int)
	for _, a := range adjs {
		if !a.Applies {
			continue
		}
		if i, ok := index[a.Target]; ok {
			out[i].Amount = out[i].Amount.Add(a.Amount)
			continue
		}
		index[a.Target] = len(out)
		out = append(out, a)
	}

	kept := out[:0]
	for _, a := range out {
		if !a.Amount.IsZero() {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// SpentIn sums tracked expenses in the budget's currency dated within the
// period.
func SpentIn(def Definition, period finance.Period, txs []finance.Transaction) finance.Amount {
	total := def.zero()
	for _, tx := range txs {
		if tx.IsExpense() && def.Tracks(tx.Category) && def.InCurrency(tx.Amount.Currency) && period.Contains(tx.Date) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

// =============================================================================
// NEW BUDGETS
// =============================================================================

// DefaultStart returns the start of the period containing now for a budget
// created without an explicit start date. Weekly budgets start on the
// locale's first weekday.
func DefaultStart(spec recurrence.Spec, now time.Time, firstWeekday time.Weekday) (time.Time, error) {
	switch spec.Kind {
	case recurrence.Daily:
		return finance.DateOnly(now), nil
	case recurrence.Weekly:
		return recurrence.StartOfWeek(now, firstWeekday), nil
	case recurrence.Monthly:
		return finance.StartOfMonth(now), nil
	case recurrence.Custom:
		return recurrence.Previous(spec, now)
	default:
		return time.Time{}, invalid(fmt.Sprintf("no default start for period kind %q", spec.Kind))
	}
}

// =============================================================================
// STATUS - What the budget screen shows
// =============================================================================

type Status struct {
	Period    finance.Period
	Budget    *finance.Amount // nil for unlimited
	Carryover finance.Amount
	Effective *finance.Amount // Budget + Carryover
	Spent     finance.Amount
	Remaining *finance.Amount
	Overspent bool
}

// StatusOf summarizes the live period.
func StatusOf(def Definition, spent finance.Amount) Status {
	s := Status{
		Period:    def.LivePeriod(),
		Budget:    copyAmount(def.Amount),
		Carryover: def.Carryover,
		Spent:     spent,
	}
	if def.Amount != nil {
		effective := def.Amount.Add(def.Carryover)
		remaining := effective.Sub(spent)
		s.Effective = &effective
		s.Remaining = &remaining
		s.Overspent = remaining.IsNegative()
	}
	return s
}
