/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Budgets and recurrence
  rules reuse the factory JSON schema so the API, the store and config files
  all speak the same format.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES:
  Calendar days are YYYY-MM-DD in the service location. Instants
  (created_at, run times) are RFC3339.

VALIDATION:
  Request types carry validator/v10 tags, checked in handlers before the
  domain sees the data. Domain rules (positive amounts, recurrence limits)
  are still enforced by the service.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/budget.go: BudgetJSON and RecurrenceJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/factory"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/tracker"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionRequest creates or replaces a transaction.
type TransactionRequest struct {
	ID       string          `json:"id,omitempty" validate:"omitempty,max=64"`
	Title    string          `json:"title" validate:"required,max=200"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3,alpha"`
	Category string          `json:"category" validate:"required,max=64"`
	Type     string          `json:"type" validate:"required,oneof=income expense transfer"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
	Note     string          `json:"note,omitempty" validate:"max=1000"`
}

type TransactionDTO struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Date       string          `json:"date"`
	Note       string          `json:"note,omitempty"`
	ScheduleID string          `json:"schedule_id,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

// =============================================================================
// BUDGETS
// =============================================================================

// BudgetDTO is the stored budget: its definition plus live period state.
type BudgetDTO struct {
	factory.BudgetJSON
	Description string          `json:"description"`
	Carryover   decimal.Decimal `json:"carryover"`
	Spent       decimal.Decimal `json:"spent"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// StatusDTO is what the budget screen shows for the live period.
type StatusDTO struct {
	BudgetID    string           `json:"budget_id"`
	Currency    string           `json:"currency"`
	PeriodStart string           `json:"period_start"`
	PeriodEnd   string           `json:"period_end"`
	Budget      *decimal.Decimal `json:"budget"` // null when unlimited
	Carryover   decimal.Decimal  `json:"carryover"`
	Effective   *decimal.Decimal `json:"effective"`
	Spent       decimal.Decimal  `json:"spent"`
	Remaining   *decimal.Decimal `json:"remaining"`
	Overspent   bool             `json:"overspent"`
}

type HistoryEntryDTO struct {
	ID         string           `json:"id"`
	StartDate  string           `json:"start_date"`
	EndDate    string           `json:"end_date"`
	Budget     *decimal.Decimal `json:"budget"`
	Spent      decimal.Decimal  `json:"spent"`
	Carryover  decimal.Decimal  `json:"carryover"`
	Categories []string         `json:"categories"`
}

// ClassificationDTO tells which period of a budget a date belongs to.
type ClassificationDTO struct {
	Date   string `json:"date"`
	Period string `json:"period"` // live, history or unmatched
	Index  *int   `json:"index,omitempty"`

	// InsideCoverage is set for unmatched dates that fall in a gap.
	InsideCoverage bool `json:"inside_coverage,omitempty"`
}

// =============================================================================
// SCHEDULES
// =============================================================================

type CreateScheduleRequest struct {
	Transaction TransactionRequest     `json:"transaction"`
	Recurrence  factory.RecurrenceJSON `json:"recurrence"`
}

type ScheduleDTO struct {
	ID          string                 `json:"id"`
	Transaction TransactionDTO         `json:"transaction"`
	Recurrence  factory.RecurrenceJSON `json:"recurrence"`
	Description string                 `json:"description"`
	LastDate    string                 `json:"last_date"`
	Active      bool                   `json:"active"`
	CreatedAt   string                 `json:"created_at"`
}

type UpcomingDTO struct {
	ScheduleID string   `json:"schedule_id"`
	Dates      []string `json:"dates"`
}

// =============================================================================
// RECURRENCE PREVIEW
// =============================================================================

// NextOccurrencesRequest previews a rule without storing anything.
type NextOccurrencesRequest struct {
	Recurrence factory.RecurrenceJSON `json:"recurrence"`
	From       string                 `json:"from" validate:"required,datetime=2006-01-02"`
	Count      int                    `json:"count,omitempty" validate:"omitempty,min=1,max=100"`
}

type OccurrencesDTO struct {
	Description string   `json:"description"`
	Dates       []string `json:"dates"`
}

// =============================================================================
// JOBS
// =============================================================================

type RolloverDTO struct {
	Checked  int `json:"checked"`
	Rolled   int `json:"rolled"`
	Archived int `json:"archived"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
}

type MaterializeDTO struct {
	Created int `json:"created"`
}

type RunDTO struct {
	ID           string      `json:"id"`
	Status       string      `json:"status"`
	Rollover     RolloverDTO `json:"rollover"`
	Materialized int         `json:"materialized"`
	Error        string      `json:"error,omitempty"`
	StartedAt    string      `json:"started_at"`
	CompletedAt  string      `json:"completed_at"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (h *Handler) toTransactionDTO(tx finance.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:         string(tx.ID),
		Title:      tx.Title,
		Amount:     tx.Amount.Value,
		Currency:   string(tx.Amount.Currency),
		Category:   string(tx.Category),
		Type:       string(tx.Type),
		Date:       h.formatDate(tx.Date),
		Note:       tx.Note,
		ScheduleID: string(tx.ScheduleID),
	}
	if !tx.CreatedAt.IsZero() {
		dto.CreatedAt = tx.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func (h *Handler) toBudgetDTO(rec tracker.BudgetRecord) BudgetDTO {
	return BudgetDTO{
		BudgetJSON:  h.budgets.ToJSON(rec.Definition),
		Description: rec.Definition.Recurrence.String(),
		Carryover:   rec.Definition.Carryover.Value,
		Spent:       rec.Spent.Value,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   rec.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) toStatusDTO(id finance.BudgetID, st budget.Status) StatusDTO {
	return StatusDTO{
		BudgetID:    string(id),
		Currency:    string(st.Spent.Currency),
		PeriodStart: h.formatDate(st.Period.Start),
		PeriodEnd:   h.formatDate(st.Period.End),
		Budget:      value(st.Budget),
		Carryover:   st.Carryover.Value,
		Effective:   value(st.Effective),
		Spent:       st.Spent.Value,
		Remaining:   value(st.Remaining),
		Overspent:   st.Overspent,
	}
}

func (h *Handler) toHistoryDTO(e budget.HistoryEntry) HistoryEntryDTO {
	dto := HistoryEntryDTO{
		ID:         string(e.ID),
		StartDate:  h.formatDate(e.StartDate),
		EndDate:    h.formatDate(e.EndDate),
		Budget:     value(e.Budget),
		Spent:      e.Spent.Value,
		Carryover:  e.Carryover.Value,
		Categories: make([]string, len(e.Categories)),
	}
	for i, c := range e.Categories {
		dto.Categories[i] = string(c)
	}
	return dto
}

func (h *Handler) toScheduleDTO(s tracker.Schedule) ScheduleDTO {
	return ScheduleDTO{
		ID:          string(s.ID),
		Transaction: h.toTransactionDTO(s.Template),
		Recurrence:  factory.RecurrenceToJSON(s.Spec),
		Description: s.Spec.String(),
		LastDate:    h.formatDate(s.Anchor),
		Active:      s.Active,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
}

func toRolloverDTO(r tracker.RolloverReport) RolloverDTO {
	return RolloverDTO{
		Checked:  r.Checked,
		Rolled:   r.Rolled,
		Archived: r.Archived,
		Finished: r.Finished,
		Failed:   r.Failed,
	}
}

func toRunDTO(r tracker.Run) RunDTO {
	return RunDTO{
		ID:           r.ID,
		Status:       string(r.Status),
		Rollover:     toRolloverDTO(r.Rollover),
		Materialized: r.Materialized,
		Error:        r.Error,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
		CompletedAt:  r.CompletedAt.Format(time.RFC3339),
	}
}

func (h *Handler) formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(h.svc.Location()).Format(factory.DateLayout)
}

func value(a *finance.Amount) *decimal.Decimal {
	if a == nil {
		return nil
	}
	v := a.Value
	return &v
}
