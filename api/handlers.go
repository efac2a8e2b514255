/*
handlers.go - HTTP API handlers for the budget tracker

PURPOSE:
  Exposes the tracker service via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the service.

ENDPOINTS:
  Transactions:
    GET    /api/transactions                  List (?from=&to= YYYY-MM-DD)
    POST   /api/transactions                  Create
    GET    /api/transactions/{id}             Get
    PUT    /api/transactions/{id}             Replace
    DELETE /api/transactions/{id}             Delete

  Budgets:
    GET    /api/budgets                       List
    POST   /api/budgets                       Create from factory JSON
    GET    /api/budgets/{id}                  Get
    DELETE /api/budgets/{id}                  Delete with history
    GET    /api/budgets/{id}/status           Live period summary
    GET    /api/budgets/{id}/history          Archived periods
    GET    /api/budgets/{id}/classify?date=   Which period a date falls in

  Schedules:
    GET    /api/schedules                     List (?active=true)
    POST   /api/schedules                     Create recurring transaction
    GET    /api/schedules/{id}                Get
    DELETE /api/schedules/{id}                Cancel (?purge=true deletes)
    GET    /api/schedules/{id}/upcoming?n=    Preview next dates

  Recurrence:
    POST   /api/recurrence/next               Preview dates of a rule

  Admin:
    POST   /api/admin/rollover                Archive elapsed periods
    POST   /api/admin/materialize             Create due occurrences
    POST   /api/admin/run                     Full job, recorded as a run
    GET    /api/admin/runs?limit=             Recorded runs

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the error:
  - 400: Validation errors, invalid input
  - 404: Record not found
  - 409: Duplicate id, gap in budget history, precondition violated
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/factory"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
	"github.com/walletwise/budget-engine/tracker"
)

const (
	defaultUpcoming = 5
	maxUpcoming     = 100
	defaultRuns     = 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *tracker.Service
	jobs     *Scheduler
	budgets  *factory.BudgetFactory
	validate *validator.Validate
	log      *logrus.Logger
}

// NewHandler creates a handler over the service. jobs backs the admin
// endpoints.
func NewHandler(svc *tracker.Service, jobs *Scheduler, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		svc:      svc,
		jobs:     jobs,
		budgets:  factory.NewBudgetFactory(svc.Location()),
		validate: validator.New(),
		log:      logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.svc.Now().Format(time.RFC3339),
	})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions, optionally bounded by day.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if s := r.URL.Query().Get("from"); s != "" {
		d, err := h.parseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD)", err)
			return
		}
		from = d
	}
	if s := r.URL.Query().Get("to"); s != "" {
		d, err := h.parseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use YYYY-MM-DD)", err)
			return
		}
		to = finance.EndOfDay(d)
	}

	txs, err := h.svc.ListTransactions(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = h.toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransaction stores a transaction and updates budget spend.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.toTransaction(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	tx, err = h.svc.AddTransaction(r.Context(), tx)
	if err != nil {
		h.fail(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toTransactionDTO(tx))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := finance.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionDTO(tx))
}

// UpdateTransaction replaces a transaction. The id in the path wins over
// the body.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.toTransaction(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}
	tx.ID = finance.TransactionID(chi.URLParam(r, "id"))

	tx, err = h.svc.UpdateTransaction(r.Context(), tx)
	if err != nil {
		h.fail(w, r, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction and its spend.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := finance.TransactionID(chi.URLParam(r, "id"))

	if err := h.svc.DeleteTransaction(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BUDGET HANDLERS
// =============================================================================

func (h *Handler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListBudgets(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list budgets", err)
		return
	}

	dtos := make([]BudgetDTO, len(records))
	for i, rec := range records {
		dtos[i] = h.toBudgetDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBudget creates a budget from its JSON definition.
func (h *Handler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req factory.BudgetJSON
	if !h.decode(w, r, &req) {
		return
	}
	def, err := h.budgets.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid budget", err)
		return
	}

	rec, err := h.svc.CreateBudget(r.Context(), def)
	if err != nil {
		h.fail(w, r, "Failed to create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toBudgetDTO(rec))
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetBudget(r.Context(), budgetID(r))
	if err != nil {
		h.fail(w, r, "Failed to get budget", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toBudgetDTO(rec))
}

func (h *Handler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBudget(r.Context(), budgetID(r)); err != nil {
		h.fail(w, r, "Failed to delete budget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBudgetStatus returns the live period summary.
func (h *Handler) GetBudgetStatus(w http.ResponseWriter, r *http.Request) {
	id := budgetID(r)
	st, err := h.svc.BudgetStatus(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get budget status", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toStatusDTO(id, st))
}

// GetBudgetHistory returns archived periods, oldest first.
func (h *Handler) GetBudgetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), budgetID(r))
	if err != nil {
		h.fail(w, r, "Failed to get budget history", err)
		return
	}

	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = h.toHistoryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClassifyDate tells which period of the budget a date falls in. An
// unmatched date is a valid answer, not an error.
func (h *Handler) ClassifyDate(w http.ResponseWriter, r *http.Request) {
	s := r.URL.Query().Get("date")
	date, err := h.parseDay(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	dto := ClassificationDTO{Date: s}
	ref, err := h.svc.ClassifyDate(r.Context(), budgetID(r), date)
	var unmatched *finance.PeriodUnmatchedError
	switch {
	case errors.As(err, &unmatched):
		dto.Period = string(budget.RefUnmatched)
		dto.InsideCoverage = unmatched.InsideCoverage
	case err != nil:
		h.fail(w, r, "Failed to classify date", err)
		return
	default:
		dto.Period = string(ref.Kind)
		if ref.Kind == budget.RefHistory {
			index := ref.Index
			dto.Index = &index
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	schedules, err := h.svc.ListSchedules(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, "Failed to list schedules", err)
		return
	}

	dtos := make([]ScheduleDTO, len(schedules))
	for i, s := range schedules {
		dtos[i] = h.toScheduleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSchedule registers a recurring transaction. The transaction's date
// is the first occurrence.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	template, err := h.toTransaction(req.Transaction)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}
	spec, err := factory.RecurrenceFromJSON(req.Recurrence)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recurrence", err)
		return
	}
	if !spec.IsRecurring() {
		writeError(w, http.StatusBadRequest, "Invalid recurrence", errors.New("a schedule must recur"))
		return
	}

	sched, err := h.svc.CreateSchedule(r.Context(), template, spec)
	if err != nil {
		h.fail(w, r, "Failed to create schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toScheduleDTO(sched))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.svc.GetSchedule(r.Context(), scheduleID(r))
	if err != nil {
		h.fail(w, r, "Failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toScheduleDTO(sched))
}

// CancelSchedule stops future occurrences. Past ones stay, unless
// ?purge=true, which deletes the schedule with every transaction it created.
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	purge := false
	if s := r.URL.Query().Get("purge"); s != "" {
		var err error
		if purge, err = strconv.ParseBool(s); err != nil {
			writeError(w, http.StatusBadRequest, "purge must be true or false", err)
			return
		}
	}

	if purge {
		if _, err := h.svc.DeleteSchedule(r.Context(), scheduleID(r)); err != nil {
			h.fail(w, r, "Failed to delete schedule", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.svc.CancelSchedule(r.Context(), scheduleID(r)); err != nil {
		h.fail(w, r, "Failed to cancel schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUpcoming previews the next occurrence dates.
func (h *Handler) GetUpcoming(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", defaultUpcoming)
	if err != nil || n > maxUpcoming {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("n must be between 1 and %d", maxUpcoming), err)
		return
	}

	id := scheduleID(r)
	dates, err := h.svc.UpcomingOccurrences(r.Context(), id, n)
	if err != nil {
		h.fail(w, r, "Failed to compute upcoming dates", err)
		return
	}

	dto := UpcomingDTO{ScheduleID: string(id), Dates: make([]string, len(dates))}
	for i, d := range dates {
		dto.Dates[i] = h.formatDate(d)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RECURRENCE HANDLERS
// =============================================================================

// NextOccurrences computes the next dates of a rule after a given day.
func (h *Handler) NextOccurrences(w http.ResponseWriter, r *http.Request) {
	var req NextOccurrencesRequest
	if !h.decode(w, r, &req) {
		return
	}
	from, err := h.parseDay(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from (use YYYY-MM-DD)", err)
		return
	}
	spec, err := factory.RecurrenceFromJSON(req.Recurrence)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recurrence", err)
		return
	}
	count := req.Count
	if count == 0 {
		count = defaultUpcoming
	}

	dates, err := recurrence.Upcoming(spec, from, count)
	if err != nil {
		h.fail(w, r, "Invalid recurrence", err)
		return
	}

	dto := OccurrencesDTO{Description: spec.String(), Dates: make([]string, len(dates))}
	for i, d := range dates {
		dto.Dates[i] = h.formatDate(d)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerRollover archives elapsed periods of every budget.
func (h *Handler) TriggerRollover(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RolloverBudgets(r.Context(), h.svc.Now())
	if err != nil {
		h.fail(w, r, "Rollover failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRolloverDTO(report))
}

// TriggerMaterialize creates due occurrences of every active schedule.
func (h *Handler) TriggerMaterialize(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.MaterializeDue(r.Context(), h.svc.Now())
	if err != nil {
		h.fail(w, r, "Materialization failed", err)
		return
	}
	writeJSON(w, http.StatusOK, MaterializeDTO{Created: created})
}

// TriggerRun runs the scheduled job now. A failed pass is still a recorded
// run and is returned with 200.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.jobs.RunOnce(r.Context())
	if err != nil && run.Status != tracker.RunFailed {
		h.fail(w, r, "Failed to record run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// ListRuns returns recorded job runs, most recent first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultRuns)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	runs, err := h.jobs.Runs(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates a JSON body. On failure it writes a 400 and
// returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) toTransaction(req TransactionRequest) (finance.Transaction, error) {
	date, err := h.parseDay(req.Date)
	if err != nil {
		return finance.Transaction{}, err
	}
	return finance.Transaction{
		ID:       finance.TransactionID(req.ID),
		Title:    req.Title,
		Amount:   finance.Amount{Value: req.Amount, Currency: finance.Currency(strings.ToUpper(req.Currency))},
		Category: finance.CategoryID(req.Category),
		Type:     finance.TransactionType(req.Type),
		Date:     date,
		Note:     req.Note,
	}, nil
}

func (h *Handler) parseDay(s string) (time.Time, error) {
	d, err := time.ParseInLocation(factory.DateLayout, s, h.svc.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", finance.ErrInvalidTransaction, s)
	}
	return d, nil
}

// fail writes err with the status its kind maps to. Server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, finance.ErrDuplicate),
		finance.IsIntegrityError(err),
		errors.Is(err, finance.ErrPreconditionViolated):
		return http.StatusConflict
	case finance.IsNotFound(err):
		return http.StatusNotFound
	case finance.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func budgetID(r *http.Request) finance.BudgetID {
	return finance.BudgetID(chi.URLParam(r, "id"))
}

func scheduleID(r *http.Request) finance.ScheduleID {
	return finance.ScheduleID(chi.URLParam(r, "id"))
}

// intParam reads a positive integer query parameter.
func intParam(r *http.Request, name string, fallback int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
