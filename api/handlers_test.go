/*
handlers_test.go - Tests for API handlers

Tests for:
- Budget creation, status and history over HTTP
- Request validation and error status mapping
- Date classification, including unmatched dates
- Recurring schedules (create, preview, cancel)
- Manual job runs and the run log
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/walletwise/budget-engine/factory"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
	"github.com/walletwise/budget-engine/tracker"
	"github.com/walletwise/budget-engine/tracker/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	router *chi.Mux
	svc    *tracker.Service
	now    time.Time
}

func newTestServer(t *testing.T, now time.Time) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ts := &testServer{now: now}
	st := store.NewTxMemory()
	ts.svc = tracker.NewService(st, logger, tracker.Options{
		Location:     time.UTC,
		FirstWeekday: time.Monday,
		Now:          func() time.Time { return ts.now },
	})
	jobs := NewScheduler(ts.svc, st, logger, "@daily")
	ts.router = NewRouter(NewHandler(ts.svc, jobs, logger), []string{"http://localhost:5173"})
	return ts
}

// do sends body (marshalled to JSON unless nil) and decodes the response
// into out when out is not nil.
func (ts *testServer) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	ts.router.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func foodBudgetJSON() map[string]any {
	return map[string]any{
		"id":                "food",
		"name":              "Food",
		"amount":            500,
		"currency":          "eur",
		"carryover_enabled": true,
		"recurrence":        map[string]any{"kind": "monthly"},
		"categories":        []string{"groceries", "restaurants"},
	}
}

func recurrenceJSON(kind string, interval int) factory.RecurrenceJSON {
	return factory.RecurrenceJSON{Kind: kind, Interval: &interval}
}

func dailySpec(t *testing.T) recurrence.Spec {
	t.Helper()
	spec, err := factory.RecurrenceFromJSON(recurrenceJSON("daily", 1))
	require.NoError(t, err)
	return spec
}

func expense(id, date string, amount float64) TransactionRequest {
	return TransactionRequest{
		ID:       id,
		Title:    "Market",
		Amount:   decimal.NewFromFloat(amount),
		Currency: "EUR",
		Category: "groceries",
		Type:     "expense",
		Date:     date,
	}
}

// =============================================================================
// BUDGETS
// =============================================================================

func TestCreateBudget_LivePeriodAndStatus(t *testing.T) {
	// GIVEN: A server whose clock is mid-March
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	// WHEN: Creating a monthly budget and spending against it
	var created BudgetDTO
	rec := ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), &created)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/transactions", expense("t1", "2025-03-05", 120), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The live period is March and the status reflects the spend
	assert.Equal(t, "food", created.ID)
	assert.Equal(t, "EUR", created.Currency)
	assert.Equal(t, "2025-03-01", created.StartDate)
	assert.Equal(t, "2025-03-31", created.EndDate)
	assert.Equal(t, "every month", created.Description)

	var status StatusDTO
	rec = ts.do(t, http.MethodGet, "/api/budgets/food/status", nil, &status)
	require.Equal(t, http.StatusOK, rec.Code)
	assertDecimal(t, "120", status.Spent)
	require.NotNil(t, status.Remaining)
	assertDecimal(t, "380", *status.Remaining)
	assert.False(t, status.Overspent)
}

func TestCreateBudget_Duplicate(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateBudget_Validation(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }},
		{"no categories", func(b map[string]any) { b["categories"] = []string{} }},
		{"bad currency", func(b map[string]any) { b["currency"] = "euro" }},
		{"bad start date", func(b map[string]any) { b["start_date"] = "03/01/2025" }},
		{"custom day out of range", func(b map[string]any) {
			b["recurrence"] = map[string]any{"kind": "custom", "day": 31}
		}},
		{"zero interval", func(b map[string]any) {
			b["recurrence"] = map[string]any{"kind": "monthly", "interval": 0}
		}},
		{"negative amount", func(b map[string]any) { b["amount"] = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := foodBudgetJSON()
			tt.mutate(body)

			var resp ErrorResponse
			rec := ts.do(t, http.MethodPost, "/api/budgets", body, &resp)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestBudgetHistory_AfterRollover(t *testing.T) {
	// GIVEN: A budget created in March with spend in March
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", expense("t1", "2025-03-05", 100), nil).Code)

	// WHEN: The clock moves into April and rollover is triggered
	ts.now = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	var report RolloverDTO
	rec := ts.do(t, http.MethodPost, "/api/admin/rollover", nil, &report)
	require.Equal(t, http.StatusOK, rec.Code)

	// THEN: March is archived and April carries the remainder
	assert.Equal(t, RolloverDTO{Checked: 1, Rolled: 1, Archived: 1}, report)

	var history []HistoryEntryDTO
	rec = ts.do(t, http.MethodGet, "/api/budgets/food/history", nil, &history)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, history, 1)
	assert.Equal(t, "2025-03-01", history[0].StartDate)
	assert.Equal(t, "2025-03-31", history[0].EndDate)
	assertDecimal(t, "100", history[0].Spent)

	var stored BudgetDTO
	ts.do(t, http.MethodGet, "/api/budgets/food", nil, &stored)
	assert.Equal(t, "2025-04-01", stored.StartDate)
	assertDecimal(t, "400", stored.Carryover)
}

func TestGetBudget_NotFound(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	for _, path := range []string{"/api/budgets/nope", "/api/budgets/nope/status", "/api/budgets/nope/history"} {
		rec := ts.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestClassifyDate(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)

	var live ClassificationDTO
	rec := ts.do(t, http.MethodGet, "/api/budgets/food/classify?date=2025-03-31", nil, &live)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live", live.Period)
	assert.Nil(t, live.Index)

	var before ClassificationDTO
	rec = ts.do(t, http.MethodGet, "/api/budgets/food/classify?date=2025-02-28", nil, &before)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unmatched", before.Period)
	assert.False(t, before.InsideCoverage)

	rec = ts.do(t, http.MethodGet, "/api/budgets/food/classify?date=tomorrow", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestCreateTransaction_Validation(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name   string
		mutate func(*TransactionRequest)
	}{
		{"missing title", func(r *TransactionRequest) { r.Title = "" }},
		{"unknown type", func(r *TransactionRequest) { r.Type = "gift" }},
		{"bad date", func(r *TransactionRequest) { r.Date = "2025-13-01" }},
		{"missing category", func(r *TransactionRequest) { r.Category = "" }},
		{"zero amount", func(r *TransactionRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *TransactionRequest) { r.Amount = decimal.NewFromInt(-3) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := expense("", "2025-03-05", 10)
			tt.mutate(&req)

			rec := ts.do(t, http.MethodPost, "/api/transactions", req, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestTransactionCRUD(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)

	// Create without an id: one is generated
	var created TransactionDTO
	rec := ts.do(t, http.MethodPost, "/api/transactions", expense("", "2025-03-05", 40), &created)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotEmpty(t, created.ID)

	// Update moves the amount
	var updated TransactionDTO
	rec = ts.do(t, http.MethodPut, "/api/transactions/"+created.ID, expense("ignored", "2025-03-06", 65), &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "2025-03-06", updated.Date)

	var status StatusDTO
	ts.do(t, http.MethodGet, "/api/budgets/food/status", nil, &status)
	assertDecimal(t, "65", status.Spent)

	// List filters by day
	var listed []TransactionDTO
	ts.do(t, http.MethodGet, "/api/transactions?from=2025-03-06&to=2025-03-06", nil, &listed)
	require.Len(t, listed, 1)
	ts.do(t, http.MethodGet, "/api/transactions?from=2025-03-07", nil, &listed)
	assert.Empty(t, listed)

	// Delete releases the spend
	rec = ts.do(t, http.MethodDelete, "/api/transactions/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	ts.do(t, http.MethodGet, "/api/budgets/food/status", nil, &status)
	assertDecimal(t, "0", status.Spent)

	rec = ts.do(t, http.MethodGet, "/api/transactions/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTransaction_DuplicateID(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", expense("t1", "2025-03-05", 10), nil).Code)

	rec := ts.do(t, http.MethodPost, "/api/transactions", expense("t1", "2025-03-05", 10), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// SCHEDULES
// =============================================================================

func TestSchedule_CreatePreviewCancel(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	// WHEN: Registering a weekly expense starting Monday March 3
	var sched ScheduleDTO
	rec := ts.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Transaction: expense("", "2025-03-03", 15),
		Recurrence:  recurrenceJSON("weekly", 1),
	}, &sched)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The first occurrence exists and the next dates are weekly
	assert.True(t, sched.Active)
	assert.Equal(t, "every week", sched.Description)

	var listed []TransactionDTO
	ts.do(t, http.MethodGet, "/api/transactions", nil, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, sched.ID, listed[0].ScheduleID)

	var upcoming UpcomingDTO
	rec = ts.do(t, http.MethodGet, "/api/schedules/"+sched.ID+"/upcoming?n=3", nil, &upcoming)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2025-03-10", "2025-03-17", "2025-03-24"}, upcoming.Dates)

	rec = ts.do(t, http.MethodGet, "/api/schedules/"+sched.ID+"/upcoming?n=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Cancelling keeps the record but deactivates it
	rec = ts.do(t, http.MethodDelete, "/api/schedules/"+sched.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var active []ScheduleDTO
	ts.do(t, http.MethodGet, "/api/schedules?active=true", nil, &active)
	assert.Empty(t, active)
}

func TestSchedule_Purge(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)
	var sched ScheduleDTO
	rec := ts.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Transaction: expense("", "2025-03-03", 15),
		Recurrence:  recurrenceJSON("weekly", 1),
	}, &sched)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/schedules/"+sched.ID+"?purge=maybe", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/schedules/"+sched.ID+"?purge=true", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var listed []TransactionDTO
	ts.do(t, http.MethodGet, "/api/transactions", nil, &listed)
	assert.Empty(t, listed)
	var status StatusDTO
	ts.do(t, http.MethodGet, "/api/budgets/food/status", nil, &status)
	assertDecimal(t, "0", status.Spent)
	rec = ts.do(t, http.MethodGet, "/api/schedules/"+sched.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSchedule_Invalid(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		rec  map[string]any
	}{
		{"negative interval", map[string]any{"kind": "daily", "interval": -2}},
		{"empty weekdays", map[string]any{"kind": "weekdays"}},
		{"never", map[string]any{"kind": "none"}},
		{"unknown kind", map[string]any{"kind": "fortnightly"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{
				"transaction": expense("", "2025-03-03", 15),
				"recurrence":  tt.rec,
			}

			rec := ts.do(t, http.MethodPost, "/api/schedules", body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// RECURRENCE PREVIEW
// =============================================================================

func TestNextOccurrences(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		body NextOccurrencesRequest
		want []string
	}{
		{
			name: "daily from late evening",
			body: NextOccurrencesRequest{Recurrence: recurrenceJSON("daily", 1), From: "2022-01-27", Count: 3},
			want: []string{"2022-01-28", "2022-01-29", "2022-01-30"},
		},
		{
			name: "custom fifth from start",
			body: NextOccurrencesRequest{Recurrence: factory.RecurrenceJSON{Kind: "custom", Anchor: "start", Day: 5}, From: "2022-01-27", Count: 2},
			want: []string{"2022-02-05", "2022-03-05"},
		},
		{
			name: "default count",
			body: NextOccurrencesRequest{Recurrence: recurrenceJSON("monthly", 1), From: "2025-01-31"},
			want: []string{"2025-03-03", "2025-04-03", "2025-05-03", "2025-06-03", "2025-07-03"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got OccurrencesDTO
			rec := ts.do(t, http.MethodPost, "/api/recurrence/next", tt.body, &got)

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.want, got.Dates)
		})
	}
}

func TestNextOccurrences_Invalid(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	for _, body := range []NextOccurrencesRequest{
		{Recurrence: recurrenceJSON("none", 0), From: "2025-01-01"},
		{Recurrence: recurrenceJSON("weekly", -1), From: "2025-01-01"},
		{Recurrence: recurrenceJSON("daily", 0), From: "2025-01-01"},
		{Recurrence: recurrenceJSON("daily", 1), From: ""},
		{Recurrence: recurrenceJSON("daily", 1), From: "2025-01-01", Count: 101},
	} {
		rec := ts.do(t, http.MethodPost, "/api/recurrence/next", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

// =============================================================================
// JOBS
// =============================================================================

func TestTriggerRun_RecordsRun(t *testing.T) {
	// GIVEN: A weekly schedule and a monthly budget created in March
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/budgets", foodBudgetJSON(), nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/schedules", CreateScheduleRequest{
		Transaction: expense("", "2025-03-24", 20),
		Recurrence:  recurrenceJSON("weekly", 1),
	}, nil).Code)

	// WHEN: The job runs on April 8
	ts.now = time.Date(2025, 4, 8, 1, 0, 0, 0, time.UTC)
	var run RunDTO
	rec := ts.do(t, http.MethodPost, "/api/admin/run", nil, &run)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: March rolled over and March 31 and April 7 were materialized
	assert.Equal(t, string(tracker.RunCompleted), run.Status)
	assert.Equal(t, 1, run.Rollover.Rolled)
	assert.Equal(t, 2, run.Materialized)

	var status StatusDTO
	ts.do(t, http.MethodGet, "/api/budgets/food/status", nil, &status)
	assert.Equal(t, "2025-04-01", status.PeriodStart)
	assertDecimal(t, "20", status.Spent)

	var runs []RunDTO
	rec = ts.do(t, http.MethodGet, "/api/admin/runs?limit=5", nil, &runs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestScheduler_RunOnceIsIdempotent(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	runs := store.NewMemory()
	jobs := NewScheduler(ts.svc, runs, logger, "@hourly")

	_, err := ts.svc.CreateSchedule(context.Background(), finance.Transaction{
		Title:    "Coffee",
		Amount:   finance.NewAmount(3, finance.CurrencyEUR),
		Category: "restaurants",
		Type:     finance.TxExpense,
		Date:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, dailySpec(t))
	require.NoError(t, err)

	first, err := jobs.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := jobs.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, first.Materialized) // March 2 through 10
	assert.Equal(t, 0, second.Materialized)

	recorded, err := jobs.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, second.ID, recorded[0].ID)
}

func TestScheduler_InvalidCron(t *testing.T) {
	ts := newTestServer(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	jobs := NewScheduler(ts.svc, store.NewMemory(), nil, "not a schedule")

	assert.Error(t, jobs.Start(false))
	jobs.Stop()
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &finance.NotFoundError{Kind: "budget", ID: "x"}, http.StatusNotFound},
		{"duplicate", finance.ErrDuplicate, http.StatusConflict},
		{"gap", &finance.PeriodUnmatchedError{BudgetID: "b", InsideCoverage: true}, http.StatusConflict},
		{"precondition", &finance.PreconditionError{Op: "advance", Detail: "not elapsed"}, http.StatusConflict},
		{"invalid recurrence", &finance.InvalidRecurrenceSpecError{Field: "interval", Reason: "must be positive"}, http.StatusBadRequest},
		{"invalid transaction", finance.ErrInvalidTransaction, http.StatusBadRequest},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
