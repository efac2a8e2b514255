/*
Package tracker orchestrates the budget engine over a Store.

PURPOSE:
  The recurrence and budget packages are pure: they compute periods,
  classifications, adjustments and rollovers but never read the clock or
  write anything. The Service is where those results meet persistence. Every
  write runs inside one store transaction so a transaction and the spend it
  causes are committed together.

KEY OPERATIONS:
  AddTransaction / UpdateTransaction / DeleteTransaction
      Persist the transaction and adjust the spent amount of every budget
      period it falls in (live or archived).
  CreateBudget
      Fill in the default start and the first live period.
  RolloverBudgets
      Archive elapsed periods for every budget (run by the scheduler).
  MaterializeDue
      Turn due recurring schedules into concrete transactions. Idempotent:
      occurrence ids are derived from schedule id and date.
  CancelSchedule / DeleteSchedule
      Stop a schedule keeping what it created, or purge it with its
      transactions.

UNMATCHED DATES:
  A transaction dated outside a budget's coverage (before its first period,
  or after its live period) simply doesn't concern that budget yet; rollover
  picks up future-dated ones. A date inside the coverage that matches no
  period is a gap in stored history and aborts the write.

CURRENCIES:
  Amounts are never converted. An expense in a currency other than the
  budget's is stored but doesn't count towards that budget; the skip is
  logged as a warning.

SEE ALSO:
  - store.go: Store interfaces
  - budget/reconciler.go: The pure operations used here
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// =============================================================================
// SERVICE
// =============================================================================

type Options struct {
	// Location in which calendar days are evaluated. Defaults to time.Local.
	Location *time.Location
	// FirstWeekday starts default weekly budget periods.
	FirstWeekday time.Weekday
	RolloverMode budget.RolloverMode
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store TxStore
	log   *logrus.Logger
	opts  Options
}

func NewService(store TxStore, logger *logrus.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RolloverMode == "" {
		opts.RolloverMode = budget.RolloverPerPeriod
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{store: store, log: logger, opts: opts}
}

// Now returns the current instant in the service's location.
func (s *Service) Now() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

func (s *Service) Location() *time.Location { return s.opts.Location }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// AddTransaction stores tx and adds its amount to the matching budget periods.
// An empty ID is assigned a fresh UUID.
func (s *Service) AddTransaction(ctx context.Context, tx finance.Transaction) (finance.Transaction, error) {
	if tx.ID == "" {
		tx.ID = finance.TransactionID(uuid.NewString())
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.Now()
	}
	if err := validateTransaction(tx); err != nil {
		return finance.Transaction{}, err
	}

	err := s.store.WithTx(ctx, func(st Store) error {
		return s.addTransaction(ctx, st, tx)
	})
	if err != nil {
		return finance.Transaction{}, err
	}
	return tx, nil
}

func (s *Service) addTransaction(ctx context.Context, st Store, tx finance.Transaction) error {
	exists, err := st.TransactionExists(ctx, tx.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: transaction %s", finance.ErrDuplicate, tx.ID)
	}
	if err := st.SaveTransaction(ctx, tx); err != nil {
		return err
	}
	return s.adjustBudgets(ctx, st, applying(budget.Added(tx)))
}

// UpdateTransaction replaces the stored transaction with the same ID. Spend
// moves from the old period to the new one when the date, amount, category
// or type changes.
func (s *Service) UpdateTransaction(ctx context.Context, tx finance.Transaction) (finance.Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return finance.Transaction{}, err
	}

	err := s.store.WithTx(ctx, func(st Store) error {
		before, err := st.GetTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		tx.CreatedAt = before.CreatedAt
		if tx.ScheduleID == "" {
			tx.ScheduleID = before.ScheduleID
		}
		if err := st.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		return s.adjustBudgets(ctx, st, editing(before, tx))
	})
	if err != nil {
		return finance.Transaction{}, err
	}
	return tx, nil
}

// DeleteTransaction removes the transaction and its spend.
func (s *Service) DeleteTransaction(ctx context.Context, id finance.TransactionID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		before, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := st.DeleteTransaction(ctx, id); err != nil {
			return err
		}
		return s.adjustBudgets(ctx, st, applying(budget.Removed(before)))
	})
}

func (s *Service) GetTransaction(ctx context.Context, id finance.TransactionID) (finance.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns transactions dated in [from, to]. Zero bounds are open.
func (s *Service) ListTransactions(ctx context.Context, from, to time.Time) ([]finance.Transaction, error) {
	return s.store.ListTransactions(ctx, from, to)
}

func validateTransaction(tx finance.Transaction) error {
	switch {
	case !tx.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", finance.ErrInvalidTransaction, tx.Type)
	case !tx.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", finance.ErrInvalidTransaction)
	case tx.Date.IsZero():
		return fmt.Errorf("%w: date is required", finance.ErrInvalidTransaction)
	case strings.TrimSpace(string(tx.Category)) == "":
		return fmt.Errorf("%w: category is required", finance.ErrInvalidTransaction)
	}
	return nil
}

// =============================================================================
// BUDGET ADJUSTMENT
// =============================================================================

// adjustFunc computes the adjustments one write causes to a single budget.
type adjustFunc func(def budget.Definition, history []budget.HistoryEntry, skip budget.SkipFunc) ([]budget.Adjustment, error)

// applying adjusts for independent deltas (an add or a delete).
func applying(deltas ...budget.Delta) adjustFunc {
	return func(def budget.Definition, history []budget.HistoryEntry, skip budget.SkipFunc) ([]budget.Adjustment, error) {
		return budget.ApplyDeltas(def, history, skip, deltas...)
	}
}

// editing adjusts for a transaction replaced in place.
func editing(before, after finance.Transaction) adjustFunc {
	return func(def budget.Definition, history []budget.HistoryEntry, skip budget.SkipFunc) ([]budget.Adjustment, error) {
		return budget.ApplyEdit(def, history, before, after, skip)
	}
}

// adjustBudgets applies a write to every budget. Deltas that don't concern a
// budget are logged and skipped; a gap in its history fails the write.
func (s *Service) adjustBudgets(ctx context.Context, st Store, adjust adjustFunc) error {
	records, err := st.ListBudgets(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		history, err := st.History(ctx, rec.Definition.ID)
		if err != nil {
			return err
		}

		adjs, err := adjust(rec.Definition, history, s.skipped(rec.Definition.ID))
		if err != nil {
			return fmt.Errorf("budget %s: %w", rec.Definition.ID, err)
		}
		if len(adjs) == 0 {
			continue
		}
		if err := s.applyAdjustments(ctx, st, rec, history, adjs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) skipped(id finance.BudgetID) budget.SkipFunc {
	return func(d budget.Delta, reason error) {
		logger := s.log.WithFields(logrus.Fields{
			"budget_id": id,
			"date":      d.Date.Format(time.RFC3339),
			"amount":    d.Amount.String(),
		})
		if errors.Is(reason, finance.ErrCurrencyMismatch) {
			logger.WithError(reason).Warn("transaction currency differs from budget, not counted")
			return
		}
		logger.Debug("transaction outside budget coverage")
	}
}

func (s *Service) applyAdjustments(ctx context.Context, st Store, rec BudgetRecord, history []budget.HistoryEntry, adjs []budget.Adjustment) error {
	liveChanged := false
	for _, adj := range adjs {
		switch adj.Target.Kind {
		case budget.RefLive:
			rec.Spent = rec.Spent.Add(adj.Amount)
			liveChanged = true
		case budget.RefHistory:
			entry := history[adj.Target.Index]
			entry.Spent = entry.Spent.Add(adj.Amount)
			if err := st.UpdateHistorySpent(ctx, entry.ID, entry.Spent); err != nil {
				return err
			}
			history[adj.Target.Index] = entry
		}

		s.log.WithFields(logrus.Fields{
			"budget_id": rec.Definition.ID,
			"target":    adj.Target.String(),
			"amount":    adj.Amount.String(),
		}).Debug("budget spend adjusted")
	}

	if !liveChanged {
		return nil
	}
	rec.UpdatedAt = s.Now()
	return st.SaveBudget(ctx, rec)
}

// =============================================================================
// BUDGETS
// =============================================================================

// CreateBudget validates def, fills in a default start date and the live
// period containing now, and computes the live spend from stored
// transactions. Periods that have already elapsed are archived right away.
func (s *Service) CreateBudget(ctx context.Context, def budget.Definition) (BudgetRecord, error) {
	now := s.Now()
	if def.ID == "" {
		def.ID = finance.BudgetID(uuid.NewString())
	}
	if def.Currency == "" && def.Amount != nil {
		def.Currency = def.Amount.Currency
	}
	def.Carryover = finance.ZeroAmount(def.Currency)

	if def.Recurrence.IsRecurring() {
		if def.StartDate.IsZero() {
			start, err := budget.DefaultStart(def.Recurrence, now, s.opts.FirstWeekday)
			if err != nil {
				return BudgetRecord{}, err
			}
			def.StartDate = start
		}
		def.StartDate = finance.DateOnly(def.StartDate)
		// The first period; rollover below brings it up to date.
		first, err := budget.CurrentPeriod(def, def.StartDate)
		if err != nil {
			return BudgetRecord{}, err
		}
		def.EndDate = first.End
	} else if !def.EndDate.IsZero() {
		def.StartDate = finance.DateOnly(def.StartDate)
		def.EndDate = finance.EndOfDay(def.EndDate)
	}
	if err := def.Validate(); err != nil {
		return BudgetRecord{}, err
	}

	rec := BudgetRecord{Definition: def, CreatedAt: now, UpdatedAt: now}
	err := s.store.WithTx(ctx, func(st Store) error {
		if _, err := st.GetBudget(ctx, def.ID); err == nil {
			return fmt.Errorf("%w: budget %s", finance.ErrDuplicate, def.ID)
		} else if !finance.IsNotFound(err) {
			return err
		}

		txs, err := st.ListTransactions(ctx, def.StartDate, def.EndDate)
		if err != nil {
			return err
		}
		rec.Spent = budget.SpentIn(def, def.LivePeriod(), txs)
		if err := st.SaveBudget(ctx, rec); err != nil {
			return err
		}

		rolled, _, err := s.rolloverBudget(ctx, st, rec, now)
		rec = rolled
		return err
	})
	if err != nil {
		return BudgetRecord{}, err
	}

	s.log.WithFields(logrus.Fields{
		"budget_id":  def.ID,
		"recurrence": def.Recurrence.String(),
		"period":     rec.Definition.LivePeriod().String(),
	}).Info("budget created")
	return rec, nil
}

func (s *Service) GetBudget(ctx context.Context, id finance.BudgetID) (BudgetRecord, error) {
	return s.store.GetBudget(ctx, id)
}

func (s *Service) ListBudgets(ctx context.Context) ([]BudgetRecord, error) {
	return s.store.ListBudgets(ctx)
}

// DeleteBudget removes the budget and its history. Transactions are kept.
func (s *Service) DeleteBudget(ctx context.Context, id finance.BudgetID) error {
	return s.store.DeleteBudget(ctx, id)
}

func (s *Service) History(ctx context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error) {
	if _, err := s.store.GetBudget(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// BudgetStatus summarizes the live period of a budget.
func (s *Service) BudgetStatus(ctx context.Context, id finance.BudgetID) (budget.Status, error) {
	rec, err := s.store.GetBudget(ctx, id)
	if err != nil {
		return budget.Status{}, err
	}
	return budget.StatusOf(rec.Definition, rec.Spent), nil
}

// ClassifyDate reports which period of the budget date belongs to. Unmatched
// dates come back with their *finance.PeriodUnmatchedError.
func (s *Service) ClassifyDate(ctx context.Context, id finance.BudgetID, date time.Time) (budget.PeriodRef, error) {
	rec, err := s.store.GetBudget(ctx, id)
	if err != nil {
		return budget.PeriodRef{}, err
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return budget.PeriodRef{}, err
	}
	return budget.Classify(rec.Definition, history, date)
}

// =============================================================================
// ROLLOVER
// =============================================================================

type RolloverReport struct {
	Checked  int
	Rolled   int
	Archived int // history entries written
	Finished int // one-off budgets past their range
	Failed   int
}

// RolloverBudgets archives elapsed periods of every budget. Each budget rolls
// in its own transaction; a failure is logged and doesn't stop the others.
func (s *Service) RolloverBudgets(ctx context.Context, now time.Time) (RolloverReport, error) {
	records, err := s.store.ListBudgets(ctx)
	if err != nil {
		return RolloverReport{}, err
	}

	report := RolloverReport{}
	var errs []error
	for _, rec := range records {
		report.Checked++
		var res budget.RolloverResult
		err := s.store.WithTx(ctx, func(st Store) error {
			// Re-read inside the transaction.
			current, err := st.GetBudget(ctx, rec.Definition.ID)
			if err != nil {
				return err
			}
			_, res, err = s.rolloverBudget(ctx, st, current, now)
			return err
		})

		logger := s.log.WithField("budget_id", rec.Definition.ID)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, fmt.Errorf("budget %s: %w", rec.Definition.ID, err))
			logger.WithError(err).Error("budget rollover failed")
		case res.Finished:
			report.Finished++
		case res.Rolled():
			report.Rolled++
			report.Archived += len(res.Entries)
			logger.WithFields(logrus.Fields{
				"archived":  len(res.Entries),
				"period":    res.Next.LivePeriod().String(),
				"carryover": res.Next.Carryover.String(),
			}).Info("budget rolled over")
		}
	}
	return report, errors.Join(errs...)
}

func (s *Service) rolloverBudget(ctx context.Context, st Store, rec BudgetRecord, now time.Time) (BudgetRecord, budget.RolloverResult, error) {
	def := rec.Definition
	if !def.EndDate.Before(now) {
		return rec, budget.RolloverResult{Next: def, NextSpent: rec.Spent}, nil
	}

	history, err := st.History(ctx, def.ID)
	if err != nil {
		return rec, budget.RolloverResult{}, err
	}
	var later []finance.Transaction
	if !def.IsOneOff() {
		later, err = st.ListTransactions(ctx, def.EndDate.Add(time.Second), time.Time{})
		if err != nil {
			return rec, budget.RolloverResult{}, err
		}
	}

	res, err := budget.Rollover(budget.RolloverInput{
		Definition:   def,
		CurrentSpent: rec.Spent,
		History:      history,
		Now:          now,
		Mode:         s.opts.RolloverMode,
		Later:        later,
	})
	if err != nil || !res.Rolled() {
		return rec, res, err
	}

	for i := range res.Entries {
		res.Entries[i].ID = finance.HistoryEntryID(uuid.NewString())
	}
	if err := st.AppendHistory(ctx, def.ID, res.Entries); err != nil {
		return rec, res, err
	}

	rec.Definition = res.Next
	rec.Spent = res.NextSpent
	rec.UpdatedAt = now
	if err := st.SaveBudget(ctx, rec); err != nil {
		return rec, res, err
	}
	return rec, res, nil
}

// =============================================================================
// RECURRING SCHEDULES
// =============================================================================

// CreateSchedule registers template as a recurring transaction. The
// template's date is the first occurrence and is stored as a transaction
// right away; later occurrences are created by MaterializeDue.
func (s *Service) CreateSchedule(ctx context.Context, template finance.Transaction, spec recurrence.Spec) (Schedule, error) {
	if err := spec.Validate(); err != nil {
		return Schedule{}, err
	}
	now := s.Now()
	if template.Date.IsZero() {
		template.Date = now
	}
	if err := validateTransaction(template); err != nil {
		return Schedule{}, err
	}

	sched := Schedule{
		ID:        finance.ScheduleID(uuid.NewString()),
		Spec:      spec,
		Anchor:    template.Date,
		Active:    true,
		CreatedAt: now,
	}
	template.ID = ""
	template.ScheduleID = sched.ID
	sched.Template = template

	err := s.store.WithTx(ctx, func(st Store) error {
		if err := st.SaveSchedule(ctx, sched); err != nil {
			return err
		}
		first := template
		first.ID = occurrenceID(sched.ID, template.Date)
		first.CreatedAt = now
		return s.addTransaction(ctx, st, first)
	})
	if err != nil {
		return Schedule{}, err
	}

	s.log.WithFields(logrus.Fields{
		"schedule_id": sched.ID,
		"recurrence":  spec.String(),
	}).Info("schedule created")
	return sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id finance.ScheduleID) (Schedule, error) {
	return s.store.GetSchedule(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, activeOnly bool) ([]Schedule, error) {
	return s.store.ListSchedules(ctx, activeOnly)
}

// CancelSchedule stops future occurrences. Materialized transactions stay.
func (s *Service) CancelSchedule(ctx context.Context, id finance.ScheduleID) error {
	return s.store.WithTx(ctx, func(st Store) error {
		sched, err := st.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		sched.Active = false
		return st.SaveSchedule(ctx, sched)
	})
}

// DeleteSchedule removes a schedule together with every transaction it
// materialized, reversing their spend. Returns the number of transactions
// removed.
func (s *Service) DeleteSchedule(ctx context.Context, id finance.ScheduleID) (int, error) {
	var deltas []budget.Delta
	err := s.store.WithTx(ctx, func(st Store) error {
		deltas = nil
		if _, err := st.GetSchedule(ctx, id); err != nil {
			return err
		}
		txs, err := st.ListTransactions(ctx, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		for _, tx := range txs {
			if tx.ScheduleID != id {
				continue
			}
			if err := st.DeleteTransaction(ctx, tx.ID); err != nil {
				return err
			}
			deltas = append(deltas, budget.Removed(tx))
		}
		if err := s.adjustBudgets(ctx, st, applying(deltas...)); err != nil {
			return err
		}
		return st.DeleteSchedule(ctx, id)
	})
	if err != nil {
		return 0, err
	}

	s.log.WithFields(logrus.Fields{
		"schedule_id": id,
		"removed":     len(deltas),
	}).Info("schedule deleted")
	return len(deltas), nil
}

// UpcomingOccurrences previews the next n dates of a schedule.
func (s *Service) UpcomingOccurrences(ctx context.Context, id finance.ScheduleID, n int) ([]time.Time, error) {
	sched, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return recurrence.Upcoming(sched.Spec, sched.Anchor, n)
}

// MaterializeDue creates a transaction for every occurrence of an active
// schedule that is due at now, and advances the schedule's anchor. Running
// it twice creates nothing new. Returns the number of transactions created.
func (s *Service) MaterializeDue(ctx context.Context, now time.Time) (int, error) {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return 0, err
	}

	created := 0
	var errs []error
	for _, sched := range schedules {
		n, err := s.materializeSchedule(ctx, sched.ID, now)
		created += n
		logger := s.log.WithField("schedule_id", sched.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", sched.ID, err))
			logger.WithError(err).Error("materializing schedule failed")
			continue
		}
		if n > 0 {
			logger.WithField("created", n).Info("recurring transactions materialized")
		}
	}
	return created, errors.Join(errs...)
}

func (s *Service) materializeSchedule(ctx context.Context, id finance.ScheduleID, now time.Time) (int, error) {
	created := 0
	err := s.store.WithTx(ctx, func(st Store) error {
		created = 0
		sched, err := st.GetSchedule(ctx, id)
		if err != nil {
			return err
		}
		if !sched.Active {
			return nil
		}

		loc := s.opts.Location
		dates, err := recurrence.Due(sched.Spec, sched.Anchor.In(loc), now.In(loc))
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			return nil
		}

		for _, date := range dates {
			tx := sched.Template
			tx.ID = occurrenceID(sched.ID, date)
			tx.Date = date
			tx.ScheduleID = sched.ID
			tx.CreatedAt = now

			exists, err := st.TransactionExists(ctx, tx.ID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := s.addTransaction(ctx, st, tx); err != nil {
				return err
			}
			created++
		}

		sched.Anchor = dates[len(dates)-1]
		return st.SaveSchedule(ctx, sched)
	})
	return created, err
}

// occurrenceID derives a stable transaction id for one occurrence.
func occurrenceID(id finance.ScheduleID, date time.Time) finance.TransactionID {
	return finance.TransactionID(fmt.Sprintf("%s-%s", id, date.Format("20060102")))
}
