/*
Package budget reconciles budget periods: which period is live, which
archived period a date belongs to, and how a period rolls into the next.

PURPOSE:
  A budget tracks spend in a set of categories against an amount per period.
  When the live period elapses it is snapshotted into an immutable history
  entry and the next period starts, optionally carrying the unspent (or
  overspent) remainder forward. Transactions added, edited or deleted after
  the fact must adjust whichever period their date falls in.

KEY CONCEPTS:
  - Definition: The budget plus its live period bounds
  - HistoryEntry: Snapshot of one elapsed period
  - PeriodRef: Live, History(i) or Unmatched
  - Adjustment: Signed change to one period's spent amount

PURITY:
  Every function here is a pure function of its arguments. Nothing reads the
  clock; callers pass "now". Nothing writes; callers persist the returned
  values. Safe for concurrent use.

PERIOD LAYOUT:
  history[0]        history[1]        ...   live (Definition)
  [Jan 1, Jan 31]   [Feb 1, Feb 28]         [Mar 1, Mar 31 23:59:59]

  Ranges are contiguous and non-overlapping by construction.

SEE ALSO:
  - reconciler.go: CurrentPeriod, Classify, Advance, ApplyTransactionDelta
  - rollover.go: Multi-period catch-up
  - recurrence/engine.go: Period boundaries come from recurrence.Next
*/
package budget

import (
	"fmt"
	"time"

	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// =============================================================================
// DEFINITION - Budget with its live period
// =============================================================================

type Definition struct {
	ID   finance.BudgetID
	Name string

	// Amount per period. Nil means unlimited (tracking only).
	Amount   *finance.Amount
	Currency finance.Currency

	// CarryoverEnabled rolls the remainder of each period into the next.
	CarryoverEnabled bool

	// Carryover applied to the live period, negative for a deficit.
	Carryover finance.Amount

	// Recurrence defines period length. Kind None is a one-off range where
	// StartDate and EndDate are explicit.
	Recurrence recurrence.Spec

	// Live period bounds. EndDate is 23:59:59 of the period's last day.
	StartDate time.Time
	EndDate   time.Time

	Categories []finance.CategoryID
}

// IsOneOff reports whether the budget covers a single explicit range.
func (d Definition) IsOneOff() bool { return !d.Recurrence.IsRecurring() }

// IsUnlimited reports whether the budget only tracks spend.
func (d Definition) IsUnlimited() bool { return d.Amount == nil }

// LivePeriod returns the stored live period bounds.
func (d Definition) LivePeriod() finance.Period {
	return finance.Period{Start: d.StartDate, End: d.EndDate}
}

// Tracks reports whether spend in the category counts towards this budget.
func (d Definition) Tracks(category finance.CategoryID) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// InCurrency reports whether amounts in c can count towards this budget.
// A budget without a currency accepts any.
func (d Definition) InCurrency(c finance.Currency) bool {
	return d.Currency == "" || d.Currency == c
}

func (d Definition) zero() finance.Amount {
	return finance.ZeroAmount(d.Currency)
}

// Validate checks the definition. EndDate may be zero for recurring budgets
// that haven't had their first period computed yet.
func (d Definition) Validate() error {
	switch d.Recurrence.Kind {
	case recurrence.Daily, recurrence.Weekly, recurrence.Monthly, recurrence.Custom:
		if err := d.Recurrence.Validate(); err != nil {
			return err
		}
	case recurrence.None, "":
		if d.EndDate.IsZero() {
			return invalid("one-off budget requires an end date")
		}
	default:
		return invalid(fmt.Sprintf("period kind %q is not supported for budgets", d.Recurrence.Kind))
	}

	if d.StartDate.IsZero() {
		return invalid("start date is required")
	}
	if !d.EndDate.IsZero() && !d.LivePeriod().Valid() {
		return invalid("end date before start date")
	}
	if d.Amount != nil && d.Amount.IsNegative() {
		return invalid("amount must not be negative")
	}
	if len(d.Categories) == 0 {
		return invalid("at least one category is required")
	}
	return nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", finance.ErrInvalidBudget, reason)
}

// =============================================================================
// HISTORY ENTRY - Snapshot of one elapsed period
// =============================================================================

// HistoryEntry is immutable except for Spent, which is corrected when a
// transaction dated inside its range is added, edited or deleted later.
type HistoryEntry struct {
	ID         finance.HistoryEntryID
	StartDate  time.Time
	EndDate    time.Time
	Budget     *finance.Amount
	Spent      finance.Amount
	Carryover  finance.Amount
	Categories []finance.CategoryID
}

func (h HistoryEntry) Period() finance.Period {
	return finance.Period{Start: h.StartDate, End: h.EndDate}
}

// =============================================================================
// PERIOD REFERENCE - Result of classifying a date
// =============================================================================

type RefKind string

const (
	RefLive      RefKind = "live"
	RefHistory   RefKind = "history"
	RefUnmatched RefKind = "unmatched"
)

type PeriodRef struct {
	Kind  RefKind
	Index int // position in history, only for RefHistory
}

func Live() PeriodRef         { return PeriodRef{Kind: RefLive} }
func History(i int) PeriodRef { return PeriodRef{Kind: RefHistory, Index: i} }
func Unmatched() PeriodRef    { return PeriodRef{Kind: RefUnmatched} }

func (r PeriodRef) String() string {
	if r.Kind == RefHistory {
		return fmt.Sprintf("history[%d]", r.Index)
	}
	return string(r.Kind)
}

// =============================================================================
// DELTA & ADJUSTMENT - Transaction effects on spend
// =============================================================================

// Delta is a signed change caused by one transaction write: positive when a
// transaction is added, negative when it's removed.
type Delta struct {
	Date     time.Time
	Category finance.CategoryID
	Type     finance.TransactionType
	Amount   finance.Amount
}

// Added is the delta of a newly stored transaction.
func Added(tx finance.Transaction) Delta {
	return Delta{Date: tx.Date, Category: tx.Category, Type: tx.Type, Amount: tx.Amount}
}

// Removed is the delta of a deleted transaction.
func Removed(tx finance.Transaction) Delta {
	return Delta{Date: tx.Date, Category: tx.Category, Type: tx.Type, Amount: tx.Amount.Neg()}
}

// Adjustment is the change to apply to one target's spent amount.
// Applies is false when the transaction doesn't concern the budget at all.
type Adjustment struct {
	Target  PeriodRef
	Amount  finance.Amount
	Applies bool
}
