/*
errors.go - Centralized error types for the finance core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every structured error unwraps to a sentinel so callers can use errors.Is.

ERROR CATEGORIES:
  1. Configuration errors - Invalid recurrence or budget definitions
  2. Integrity errors - Dates that fall into a gap in a budget's history
  3. Programming errors - Preconditions the caller must check first
  4. Store errors - Missing or duplicate records

USAGE:
  next, err := recurrence.Next(spec, from)
  if errors.Is(err, finance.ErrInvalidRecurrenceSpec) {
      // upstream form validation let a bad spec through
  }

SEE ALSO:
  - recurrence/engine.go: Returns InvalidRecurrenceSpecError
  - budget/reconciler.go: Returns PeriodUnmatchedError and PreconditionError
*/
package finance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRecurrenceSpec is returned for interval <= 0, an empty weekday
	// set or a custom day outside 1..28. Never defaulted.
	ErrInvalidRecurrenceSpec = errors.New("invalid recurrence spec")

	// ErrPeriodUnmatched is returned when a date falls neither in the live
	// period nor in any history entry.
	ErrPeriodUnmatched = errors.New("date matches no budget period")

	// ErrPreconditionViolated is returned when a budget period is advanced
	// before it has elapsed.
	ErrPreconditionViolated = errors.New("precondition violated")

	// ErrCurrencyMismatch is returned when a transaction's currency differs
	// from the budget's. Amounts are never converted.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInvalidBudget is returned when a budget definition is malformed.
	ErrInvalidBudget = errors.New("invalid budget")

	// ErrInvalidTransaction is returned when a transaction is malformed.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a record with the same id already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRecurrenceSpecError names the offending field.
type InvalidRecurrenceSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidRecurrenceSpecError) Error() string {
	return fmt.Sprintf("invalid recurrence spec: %s %s", e.Field, e.Reason)
}

func (e *InvalidRecurrenceSpecError) Unwrap() error {
	return ErrInvalidRecurrenceSpec
}

// PeriodUnmatchedError reports a date no period claims.
// InsideCoverage is true when the date lies between the budget's earliest
// history start and the live period's end, i.e. the history has a gap.
type PeriodUnmatchedError struct {
	BudgetID       BudgetID
	Date           time.Time
	Coverage       Period
	InsideCoverage bool
}

func (e *PeriodUnmatchedError) Error() string {
	if e.InsideCoverage {
		return fmt.Sprintf("budget %s: %s falls in a gap within %s",
			e.BudgetID, e.Date.Format("2006-01-02"), e.Coverage)
	}
	return fmt.Sprintf("budget %s: %s is outside %s",
		e.BudgetID, e.Date.Format("2006-01-02"), e.Coverage)
}

func (e *PeriodUnmatchedError) Unwrap() error {
	return ErrPeriodUnmatched
}

// PreconditionError describes a call made before its precondition held.
type PreconditionError struct {
	Op     string
	Detail string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition violated: %s", e.Op, e.Detail)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionViolated
}

// CurrencyMismatchError names both currencies.
type CurrencyMismatchError struct {
	BudgetID BudgetID
	Budget   Currency
	Got      Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("budget %s is in %s, transaction is in %s", e.BudgetID, e.Budget, e.Got)
}

func (e *CurrencyMismatchError) Unwrap() error {
	return ErrCurrencyMismatch
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRecurrenceSpec) ||
		errors.Is(err, ErrInvalidBudget) ||
		errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIntegrityError returns true if the error points at inconsistent stored
// data that should be reported rather than repaired silently.
func IsIntegrityError(err error) bool {
	var unmatched *PeriodUnmatchedError
	return errors.As(err, &unmatched) && unmatched.InsideCoverage
}
