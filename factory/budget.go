/*
Package factory provides JSON to Go budget and recurrence conversion.

PURPOSE:
  Converts JSON budget definitions and recurrence rules into budget.Definition
  and recurrence.Spec values, and back. The same JSON shape is used by the
  HTTP API and by the SQLite store for the recurrence column.

JSON SCHEMA:
  {
    "id": "food",
    "name": "Food",
    "amount": "500",
    "currency": "EUR",
    "carryover_enabled": true,
    "recurrence": {"kind": "monthly", "interval": 1},
    "start_date": "2022-01-01",
    "categories": ["groceries", "restaurants"]
  }

  Recurrence kinds:
    {"kind": "none"}
    {"kind": "daily",    "interval": 3}
    {"kind": "weekly",   "interval": 2}
    {"kind": "monthly",  "interval": 1}
    {"kind": "weekdays", "weekdays": ["monday", "fri"]}
    {"kind": "custom",   "anchor": "from_end", "day": 1}

  "amount" is omitted for an unlimited (tracking only) budget. Dates are
  calendar days in the factory's location.

USAGE:
  f := factory.NewBudgetFactory(time.UTC)
  def, err := f.ParseBudget(jsonString)

SEE ALSO:
  - budget/types.go: Definition
  - recurrence/spec.go: Spec
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// DateLayout is the calendar-day format used in JSON.
const DateLayout = "2006-01-02"

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RecurrenceJSON is the JSON representation of a recurrence rule.
type RecurrenceJSON struct {
	Kind     string   `json:"kind"`
	Interval *int     `json:"interval,omitempty"` // omitted means 1
	Weekdays []string `json:"weekdays,omitempty"`
	Anchor   string   `json:"anchor,omitempty"` // from_start, from_end
	Day      int      `json:"day,omitempty"`    // 1-28
}

// BudgetJSON is the JSON representation of a budget.
// Validate tags are checked by the API before FromJSON runs.
type BudgetJSON struct {
	ID               string           `json:"id,omitempty" validate:"omitempty,max=64"`
	Name             string           `json:"name" validate:"required,max=100"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         string           `json:"currency" validate:"required,len=3,alpha"`
	CarryoverEnabled bool             `json:"carryover_enabled,omitempty"`
	Recurrence       RecurrenceJSON   `json:"recurrence"`
	StartDate        string           `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate          string           `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Categories       []string         `json:"categories" validate:"min=1,dive,required"`
}

// =============================================================================
// BUDGET FACTORY
// =============================================================================

// BudgetFactory converts JSON budgets to Go structs.
type BudgetFactory struct {
	loc *time.Location
}

// NewBudgetFactory creates a factory that reads dates in loc.
func NewBudgetFactory(loc *time.Location) *BudgetFactory {
	if loc == nil {
		loc = time.Local
	}
	return &BudgetFactory{loc: loc}
}

// ParseBudget parses a JSON string into a budget definition. The result is
// not validated beyond its fields parsing; see budget.Definition.Validate.
func (f *BudgetFactory) ParseBudget(jsonStr string) (budget.Definition, error) {
	var bj BudgetJSON
	if err := json.Unmarshal([]byte(jsonStr), &bj); err != nil {
		return budget.Definition{}, fmt.Errorf("%w: invalid JSON: %v", finance.ErrInvalidBudget, err)
	}
	return f.FromJSON(bj)
}

// FromJSON converts a BudgetJSON to a budget definition.
func (f *BudgetFactory) FromJSON(bj BudgetJSON) (budget.Definition, error) {
	spec, err := RecurrenceFromJSON(bj.Recurrence)
	if err != nil {
		return budget.Definition{}, err
	}

	currency := finance.Currency(strings.ToUpper(bj.Currency))
	def := budget.Definition{
		ID:               finance.BudgetID(bj.ID),
		Name:             bj.Name,
		Currency:         currency,
		CarryoverEnabled: bj.CarryoverEnabled,
		Carryover:        finance.ZeroAmount(currency),
		Recurrence:       spec,
	}
	if bj.Amount != nil {
		amount := finance.Amount{Value: *bj.Amount, Currency: currency}
		def.Amount = &amount
	}
	for _, c := range bj.Categories {
		def.Categories = append(def.Categories, finance.CategoryID(c))
	}

	if bj.StartDate != "" {
		if def.StartDate, err = f.ParseDate(bj.StartDate); err != nil {
			return budget.Definition{}, err
		}
	}
	if bj.EndDate != "" {
		end, err := f.ParseDate(bj.EndDate)
		if err != nil {
			return budget.Definition{}, err
		}
		def.EndDate = finance.EndOfDay(end)
	}
	return def, nil
}

// ToJSON converts a budget definition to its JSON representation.
func (f *BudgetFactory) ToJSON(def budget.Definition) BudgetJSON {
	bj := BudgetJSON{
		ID:               string(def.ID),
		Name:             def.Name,
		Currency:         string(def.Currency),
		CarryoverEnabled: def.CarryoverEnabled,
		Recurrence:       RecurrenceToJSON(def.Recurrence),
	}
	if def.Amount != nil {
		v := def.Amount.Value
		bj.Amount = &v
	}
	if !def.StartDate.IsZero() {
		bj.StartDate = def.StartDate.In(f.loc).Format(DateLayout)
	}
	if !def.EndDate.IsZero() {
		bj.EndDate = def.EndDate.In(f.loc).Format(DateLayout)
	}
	for _, c := range def.Categories {
		bj.Categories = append(bj.Categories, string(c))
	}
	return bj
}

// ParseDate parses a YYYY-MM-DD calendar day at midnight in the factory's
// location.
func (f *BudgetFactory) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, f.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", finance.ErrInvalidBudget, s)
	}
	return t, nil
}

// =============================================================================
// RECURRENCE
// =============================================================================

// ParseRecurrence parses a JSON string into a recurrence spec.
func ParseRecurrence(jsonStr string) (recurrence.Spec, error) {
	var rj RecurrenceJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return recurrence.Spec{}, &finance.InvalidRecurrenceSpecError{Field: "json", Reason: err.Error()}
	}
	return RecurrenceFromJSON(rj)
}

// RecurrenceFromJSON converts and validates a recurrence rule. Kind "none"
// (or empty) returns recurrence.Never without validation.
func RecurrenceFromJSON(rj RecurrenceJSON) (recurrence.Spec, error) {
	kind, err := parseKind(rj.Kind)
	if err != nil {
		return recurrence.Spec{}, err
	}

	var spec recurrence.Spec
	switch kind {
	case recurrence.None:
		return recurrence.Never(), nil
	case recurrence.Daily, recurrence.Weekly, recurrence.Monthly:
		interval := 1
		if rj.Interval != nil {
			interval = *rj.Interval
		}
		spec = recurrence.Spec{Kind: kind, Interval: interval}
	case recurrence.SelectedWeekdays:
		days := make([]time.Weekday, 0, len(rj.Weekdays))
		for _, name := range rj.Weekdays {
			wd, err := ParseWeekday(name)
			if err != nil {
				return recurrence.Spec{}, err
			}
			days = append(days, wd)
		}
		spec = recurrence.OnWeekdays(days...)
	case recurrence.Custom:
		anchor, err := parseAnchor(rj.Anchor)
		if err != nil {
			return recurrence.Spec{}, err
		}
		spec = recurrence.DayOfMonth(anchor, rj.Day)
	}

	if err := spec.Validate(); err != nil {
		return recurrence.Spec{}, err
	}
	return spec, nil
}

// RecurrenceToJSON converts a recurrence spec to its JSON representation.
func RecurrenceToJSON(spec recurrence.Spec) RecurrenceJSON {
	rj := RecurrenceJSON{Kind: string(spec.Kind)}
	switch spec.Kind {
	case recurrence.Daily, recurrence.Weekly, recurrence.Monthly:
		interval := spec.Interval
		rj.Interval = &interval
	case recurrence.SelectedWeekdays:
		for _, wd := range spec.Weekdays {
			rj.Weekdays = append(rj.Weekdays, strings.ToLower(wd.String()))
		}
	case recurrence.Custom:
		rj.Anchor = string(spec.Anchor)
		rj.Day = spec.Day
	case "":
		rj.Kind = string(recurrence.None)
	}
	return rj
}

// MarshalRecurrence encodes a spec as JSON.
func MarshalRecurrence(spec recurrence.Spec) (string, error) {
	data, err := json.Marshal(RecurrenceToJSON(spec))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseKind(s string) (recurrence.Kind, error) {
	switch strings.ToLower(s) {
	case "", "none", "never":
		return recurrence.None, nil
	case "daily":
		return recurrence.Daily, nil
	case "weekly":
		return recurrence.Weekly, nil
	case "monthly":
		return recurrence.Monthly, nil
	case "weekdays", "selected_weekdays":
		return recurrence.SelectedWeekdays, nil
	case "custom":
		return recurrence.Custom, nil
	}
	return "", &finance.InvalidRecurrenceSpecError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
}

func parseAnchor(s string) (recurrence.Anchor, error) {
	switch strings.ToLower(s) {
	case "", "from_start", "start":
		return recurrence.FromStart, nil
	case "from_end", "end":
		return recurrence.FromEnd, nil
	}
	return "", &finance.InvalidRecurrenceSpecError{Field: "anchor", Reason: fmt.Sprintf("unknown anchor %q", s)}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, &finance.InvalidRecurrenceSpecError{Field: "weekdays", Reason: fmt.Sprintf("unknown weekday %q", s)}
	}
	return wd, nil
}
