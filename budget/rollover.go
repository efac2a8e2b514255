package budget

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/walletwise/budget-engine/finance"
)

// =============================================================================
// ROLLOVER - Catching up on every elapsed period
// =============================================================================
//
// When the app goes unused for a while, several periods may elapse between
// two rollovers. RolloverMode decides how they are archived:
//
//   RolloverPerPeriod: one history entry per elapsed period, carryover
//     chained through every entry.
//
//   RolloverCollapse: a single entry spanning all elapsed periods, with the
//     budget multiplied by the number of periods.
//
// Both modes conserve money: total budget + opening carryover equals total
// spend + closing carryover.

type RolloverMode string

const (
	RolloverPerPeriod RolloverMode = "per_period"
	RolloverCollapse  RolloverMode = "collapse"
)

// ParseRolloverMode defaults to RolloverPerPeriod for empty input.
func ParseRolloverMode(s string) (RolloverMode, error) {
	switch RolloverMode(s) {
	case "", RolloverPerPeriod:
		return RolloverPerPeriod, nil
	case RolloverCollapse:
		return RolloverCollapse, nil
	}
	return "", invalid("unknown rollover mode " + s)
}

type RolloverInput struct {
	Definition   Definition
	CurrentSpent finance.Amount
	History      []HistoryEntry
	Now          time.Time
	Mode         RolloverMode

	// Later holds transactions dated after the live period. Their spend is
	// attributed to whichever period they fall in while catching up. May be nil.
	Later []finance.Transaction
}

type RolloverResult struct {
	// Entries to append to history, oldest first.
	Entries []HistoryEntry

	// Next is the definition with the new live period and carryover, and
	// NextSpent the spend already recorded in it.
	Next      Definition
	NextSpent finance.Amount

	// Finished is set for one-off budgets whose range has elapsed; they have
	// no next period and are left untouched.
	Finished bool
}

// Rolled reports whether any period was archived.
func (r RolloverResult) Rolled() bool { return len(r.Entries) > 0 }

// Rollover archives every period that ended strictly before in.Now.
// A live period that hasn't elapsed yields an empty result, not an error.
func Rollover(in RolloverInput) (RolloverResult, error) {
	def := in.Definition
	if !def.EndDate.Before(in.Now) {
		return RolloverResult{Next: def, NextSpent: in.CurrentSpent}, nil
	}
	if def.IsOneOff() {
		return RolloverResult{Next: def, NextSpent: in.CurrentSpent, Finished: true}, nil
	}
	if in.Mode == RolloverCollapse {
		return rolloverCollapsed(in)
	}

	result := RolloverResult{}
	hist := append([]HistoryEntry(nil), in.History...)
	cur := def
	spent := in.CurrentSpent

	for cur.EndDate.Before(in.Now) {
		entry, carry, err := Advance(cur, spent, hist, in.Now)
		if err != nil {
			return RolloverResult{}, err
		}
		result.Entries = append(result.Entries, entry)
		hist = append(hist, entry)

		cur, err = following(cur, carry)
		if err != nil {
			return RolloverResult{}, err
		}
		spent = SpentIn(cur, cur.LivePeriod(), in.Later)
	}

	result.Next = cur
	result.NextSpent = spent
	return result, nil
}

func rolloverCollapsed(in RolloverInput) (RolloverResult, error) {
	def := in.Definition
	last := def
	spent := in.CurrentSpent
	count := int64(1)
	for {
		next, err := following(last, def.zero())
		if err != nil {
			return RolloverResult{}, err
		}
		if !next.EndDate.Before(in.Now) {
			break
		}
		spent = spent.Add(SpentIn(next, next.LivePeriod(), in.Later))
		last = next
		count++
	}

	span := def
	span.EndDate = last.EndDate
	if def.Amount != nil {
		total := def.Amount.Mul(decimal.NewFromInt(count))
		span.Amount = &total
	}

	entry, carry, err := Advance(span, spent, in.History, in.Now)
	if err != nil {
		return RolloverResult{}, err
	}
	// The snapshot keeps the accumulated budget; the live definition keeps
	// the per-period amount.
	next, err := following(last, carry)
	if err != nil {
		return RolloverResult{}, err
	}
	return RolloverResult{
		Entries:   []HistoryEntry{entry},
		Next:      next,
		NextSpent: SpentIn(next, next.LivePeriod(), in.Later),
	}, nil
}

// following returns the definition for the period right after cur.
func following(cur Definition, carry finance.Amount) (Definition, error) {
	p, err := periodFrom(cur.Recurrence, cur.LivePeriod().NextStart())
	if err != nil {
		return Definition{}, err
	}
	next := cur
	next.StartDate = p.Start
	next.EndDate = p.End
	next.Carryover = carry
	return next, nil
}
