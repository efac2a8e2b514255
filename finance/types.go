/*
Package finance provides the value types shared by every other package.

PURPOSE:
  Amounts, identifiers, transactions and periods are plain immutable values.
  The recurrence engine and the budget reconciler operate on them without
  touching storage; the tracker service and the stores persist them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity of money in a currency
  - Transaction: A single income, expense or transfer on a calendar date
  - Identifiers: Type-safe ids for transactions, budgets, categories, schedules

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for money
  2. Magnitude: Transaction.Amount is always a positive magnitude, the Type
     says which way the money moved
  3. Type Safety: Distinct id types prevent mixing a budget id with a category id

USAGE:
  tx := finance.Transaction{
      Title:    "Groceries",
      Amount:   finance.NewAmount(42.5, finance.CurrencyEUR),
      Category: "food",
      Type:     finance.TxExpense,
      Date:     time.Date(2022, time.January, 27, 22, 31, 0, 0, time.UTC),
  }

SEE ALSO:
  - period.go: Period bounds and calendar helpers
  - errors.go: Error taxonomy
*/
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Money with a currency
// =============================================================================

type Amount struct {
	Value    decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(s string, currency Currency) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d, Currency: currency}, nil
}

// ZeroAmount returns a zero amount in the given currency.
func ZeroAmount(currency Currency) Amount { return Amount{Value: decimal.Zero, Currency: currency} }

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }

func (a Amount) String() string {
	if a.Currency == "" {
		return a.Value.StringFixed(2)
	}
	return a.Value.StringFixed(2) + " " + string(a.Currency)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type BudgetID string
type CategoryID string
type ScheduleID string
type HistoryEntryID string

// =============================================================================
// TRANSACTION - Entity referenced (not owned) by the budget core
// =============================================================================

type TransactionType string

const (
	TxIncome   TransactionType = "income"
	TxExpense  TransactionType = "expense"
	TxTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxIncome, TxExpense, TxTransfer:
		return true
	}
	return false
}

type Transaction struct {
	ID       TransactionID
	Title    string
	Amount   Amount // positive magnitude
	Category CategoryID
	Type     TransactionType
	Date     time.Time
	Note     string

	// ScheduleID links a materialized occurrence back to its recurring schedule.
	ScheduleID ScheduleID

	CreatedAt time.Time
}

// IsExpense reports whether the transaction counts towards budget spend.
func (t Transaction) IsExpense() bool { return t.Type == TxExpense }
