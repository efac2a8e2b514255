/*
Package sqlite provides a SQLite-backed implementation of the tracker stores.

PURPOSE:
  Implements tracker.TxStore and tracker.RunStore using SQLite. The same
  schema works on PostgreSQL with minor dialect changes.

KEY TABLES:
  transactions:   Income, expenses and transfers
  budgets:        Budget definition, live period and live spend
  budget_history: Snapshots of elapsed periods (append-only except spent)
  schedules:      Recurring transaction templates and their anchor
  rollover_runs:  Log of background rollover/materialize passes

TIME STORAGE:
  Instants are stored as fixed-width UTC strings (2006-01-02T15:04:05Z) so
  lexicographic order in SQL equals chronological order. They are returned
  in the store's location so calendar arithmetic keeps working in the
  user's zone. Sub-second precision is dropped.

MONEY STORAGE:
  Decimal values are stored as TEXT and parsed with shopspring/decimal;
  never as REAL.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases consistent across calls.

USAGE:
  store, err := sqlite.New("./data/budget.db", sqlite.WithLocation(loc))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - tracker/store.go: Interface definitions
  - tracker/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/factory"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/tracker"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Store implements tracker.TxStore and tracker.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  *queries
}

type Option func(*Store)

// WithLocation sets the location times are returned in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.q.loc = loc }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, q: &queries{db: db, loc: time.Local}}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		amount_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		category TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		date TEXT NOT NULL,
		note TEXT,
		schedule_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Period sums and range listings (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_schedule
		ON transactions(schedule_id) WHERE schedule_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		amount_value TEXT,
		currency TEXT NOT NULL,
		carryover_enabled INTEGER NOT NULL DEFAULT 0,
		carryover_value TEXT NOT NULL DEFAULT '0',
		recurrence_json TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		categories_json TEXT NOT NULL,
		spent_value TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only; only spent_value is ever updated
	CREATE TABLE IF NOT EXISTS budget_history (
		id TEXT PRIMARY KEY,
		budget_id TEXT NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		budget_value TEXT,
		spent_value TEXT NOT NULL,
		carryover_value TEXT NOT NULL,
		categories_json TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_budget_history_seq
		ON budget_history(budget_id, seq);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_budget_history_start
		ON budget_history(budget_id, start_date);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		amount_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		category TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		note TEXT,
		recurrence_json TEXT NOT NULL,
		anchor TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_schedules_active
		ON schedules(active);

	CREATE TABLE IF NOT EXISTS rollover_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		checked INTEGER NOT NULL DEFAULT 0,
		rolled INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		finished INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		materialized INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_rollover_runs_started
		ON rollover_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED STORE (tracker.Store interface)
// =============================================================================

func (s *Store) SaveTransaction(ctx context.Context, tx finance.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveTransaction(ctx, tx)
}

func (s *Store) GetTransaction(ctx context.Context, id finance.TransactionID) (finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetTransaction(ctx, id)
}

func (s *Store) DeleteTransaction(ctx context.Context, id finance.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, from, to time.Time) ([]finance.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListTransactions(ctx, from, to)
}

func (s *Store) TransactionExists(ctx context.Context, id finance.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.TransactionExists(ctx, id)
}

func (s *Store) SaveBudget(ctx context.Context, b tracker.BudgetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveBudget(ctx, b)
}

func (s *Store) GetBudget(ctx context.Context, id finance.BudgetID) (tracker.BudgetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetBudget(ctx, id)
}

func (s *Store) ListBudgets(ctx context.Context) ([]tracker.BudgetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListBudgets(ctx)
}

func (s *Store) DeleteBudget(ctx context.Context, id finance.BudgetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteBudget(ctx, id)
}

func (s *Store) AppendHistory(ctx context.Context, id finance.BudgetID, entries []budget.HistoryEntry) error {
	return s.WithTx(ctx, func(st tracker.Store) error {
		return st.AppendHistory(ctx, id, entries)
	})
}

func (s *Store) History(ctx context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.History(ctx, id)
}

func (s *Store) UpdateHistorySpent(ctx context.Context, entryID finance.HistoryEntryID, spent finance.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.UpdateHistorySpent(ctx, entryID, spent)
}

func (s *Store) SaveSchedule(ctx context.Context, sched tracker.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.SaveSchedule(ctx, sched)
}

func (s *Store) GetSchedule(ctx context.Context, id finance.ScheduleID) (tracker.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.GetSchedule(ctx, id)
}

func (s *Store) ListSchedules(ctx context.Context, activeOnly bool) ([]tracker.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.ListSchedules(ctx, activeOnly)
}

func (s *Store) DeleteSchedule(ctx context.Context, id finance.ScheduleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.DeleteSchedule(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (tracker.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store tracker.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx, loc: s.q.loc}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// QUERIES - Unlocked operations over a *sql.DB or *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db  querier
	loc *time.Location
}

const transactionColumns = `id, title, amount_value, currency, category, tx_type, date, note, schedule_id, created_at`

func (q *queries) SaveTransaction(ctx context.Context, tx finance.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			amount_value = excluded.amount_value,
			currency = excluded.currency,
			category = excluded.category,
			tx_type = excluded.tx_type,
			date = excluded.date,
			note = excluded.note,
			schedule_id = excluded.schedule_id
	`

	_, err := q.db.ExecContext(ctx, query,
		tx.ID, tx.Title, tx.Amount.Value.String(), tx.Amount.Currency,
		tx.Category, tx.Type, formatTime(tx.Date),
		nullString(tx.Note), nullString(string(tx.ScheduleID)),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func (q *queries) GetTransaction(ctx context.Context, id finance.TransactionID) (finance.Transaction, error) {
	txs, err := q.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return finance.Transaction{}, err
	}
	if len(txs) == 0 {
		return finance.Transaction{}, &finance.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return txs[0], nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id finance.TransactionID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return requireRow(res, "transaction", string(id))
}

func (q *queries) ListTransactions(ctx context.Context, from, to time.Time) ([]finance.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if !from.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, formatTime(from))
	}
	if !to.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, formatTime(to))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date ASC, id ASC`

	return q.queryTransactions(ctx, query, args...)
}

func (q *queries) TransactionExists(ctx context.Context, id finance.TransactionID) (bool, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE id = ?", id,
	).Scan(&count)
	return count > 0, err
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]finance.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []finance.Transaction
	for rows.Next() {
		tx, err := q.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func (q *queries) scanTransaction(rows *sql.Rows) (finance.Transaction, error) {
	var (
		tx         finance.Transaction
		value      string
		currency   string
		date       string
		note       sql.NullString
		scheduleID sql.NullString
		createdAt  string
	)

	err := rows.Scan(
		&tx.ID, &tx.Title, &value, &currency, &tx.Category, &tx.Type,
		&date, &note, &scheduleID, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Amount, err = parseAmount(value, currency); err != nil {
		return tx, err
	}
	tx.Date = q.parseTime(date)
	tx.Note = note.String
	tx.ScheduleID = finance.ScheduleID(scheduleID.String)
	tx.CreatedAt = q.parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// BUDGETS
// =============================================================================

const budgetColumns = `id, name, amount_value, currency, carryover_enabled, carryover_value,
	recurrence_json, start_date, end_date, categories_json, spent_value, created_at, updated_at`

func (q *queries) SaveBudget(ctx context.Context, b tracker.BudgetRecord) error {
	def := b.Definition
	recurrenceJSON, err := factory.MarshalRecurrence(def.Recurrence)
	if err != nil {
		return err
	}
	categoriesJSON, err := marshalCategories(def.Categories)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO budgets (` + budgetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			amount_value = excluded.amount_value,
			currency = excluded.currency,
			carryover_enabled = excluded.carryover_enabled,
			carryover_value = excluded.carryover_value,
			recurrence_json = excluded.recurrence_json,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			categories_json = excluded.categories_json,
			spent_value = excluded.spent_value,
			updated_at = excluded.updated_at
	`

	_, err = q.db.ExecContext(ctx, query,
		def.ID, def.Name, nullAmount(def.Amount), def.Currency,
		def.CarryoverEnabled, def.Carryover.Value.String(),
		recurrenceJSON, formatTime(def.StartDate), formatTime(def.EndDate),
		categoriesJSON, b.Spent.Value.String(),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	return nil
}

func (q *queries) GetBudget(ctx context.Context, id finance.BudgetID) (tracker.BudgetRecord, error) {
	records, err := q.queryBudgets(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	if err != nil {
		return tracker.BudgetRecord{}, err
	}
	if len(records) == 0 {
		return tracker.BudgetRecord{}, &finance.NotFoundError{Kind: "budget", ID: string(id)}
	}
	return records[0], nil
}

func (q *queries) ListBudgets(ctx context.Context) ([]tracker.BudgetRecord, error) {
	return q.queryBudgets(ctx, `SELECT `+budgetColumns+` FROM budgets ORDER BY id`)
}

func (q *queries) DeleteBudget(ctx context.Context, id finance.BudgetID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	return requireRow(res, "budget", string(id))
}

func (q *queries) queryBudgets(ctx context.Context, query string, args ...any) ([]tracker.BudgetRecord, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer rows.Close()

	var records []tracker.BudgetRecord
	for rows.Next() {
		var (
			rec            tracker.BudgetRecord
			def            budget.Definition
			amount         sql.NullString
			carryover      string
			recurrenceJSON string
			start, end     string
			categoriesJSON string
			spent          string
			created, upd   string
		)
		if err := rows.Scan(
			&def.ID, &def.Name, &amount, &def.Currency, &def.CarryoverEnabled, &carryover,
			&recurrenceJSON, &start, &end, &categoriesJSON, &spent, &created, &upd,
		); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}

		if def.Amount, err = parseNullAmount(amount, def.Currency); err != nil {
			return nil, err
		}
		if def.Carryover, err = parseAmount(carryover, string(def.Currency)); err != nil {
			return nil, err
		}
		if def.Recurrence, err = factory.ParseRecurrence(recurrenceJSON); err != nil {
			return nil, fmt.Errorf("budget %s: %w", def.ID, err)
		}
		if def.Categories, err = unmarshalCategories(categoriesJSON); err != nil {
			return nil, err
		}
		def.StartDate = q.parseTime(start)
		def.EndDate = q.parseTime(end)

		rec.Definition = def
		if rec.Spent, err = parseAmount(spent, string(def.Currency)); err != nil {
			return nil, err
		}
		rec.CreatedAt = q.parseTime(created)
		rec.UpdatedAt = q.parseTime(upd)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// =============================================================================
// BUDGET HISTORY
// =============================================================================

func (q *queries) AppendHistory(ctx context.Context, id finance.BudgetID, entries []budget.HistoryEntry) error {
	var currency finance.Currency
	err := q.db.QueryRowContext(ctx, `SELECT currency FROM budgets WHERE id = ?`, id).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return &finance.NotFoundError{Kind: "budget", ID: string(id)}
	}
	if err != nil {
		return err
	}

	var seq int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) FROM budget_history WHERE budget_id = ?`, id,
	).Scan(&seq); err != nil {
		return err
	}

	query := `
		INSERT INTO budget_history (id, budget_id, seq, start_date, end_date,
			budget_value, spent_value, carryover_value, categories_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, h := range entries {
		seq++
		categoriesJSON, err := marshalCategories(h.Categories)
		if err != nil {
			return err
		}
		_, err = q.db.ExecContext(ctx, query,
			h.ID, id, seq, formatTime(h.StartDate), formatTime(h.EndDate),
			nullAmount(h.Budget), h.Spent.Value.String(), h.Carryover.Value.String(),
			categoriesJSON,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: history entry %s for budget %s", finance.ErrDuplicate, h.Period(), id)
			}
			return fmt.Errorf("failed to append history: %w", err)
		}
	}
	return nil
}

func (q *queries) History(ctx context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error) {
	query := `
		SELECT h.id, h.start_date, h.end_date, h.budget_value, h.spent_value,
			h.carryover_value, h.categories_json, b.currency
		FROM budget_history h
		JOIN budgets b ON b.id = h.budget_id
		WHERE h.budget_id = ?
		ORDER BY h.seq ASC
	`
	rows, err := q.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []budget.HistoryEntry
	for rows.Next() {
		var (
			h                budget.HistoryEntry
			start, end       string
			budgetValue      sql.NullString
			spent, carryover string
			categoriesJSON   string
			currency         finance.Currency
		)
		if err := rows.Scan(&h.ID, &start, &end, &budgetValue, &spent, &carryover, &categoriesJSON, &currency); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.StartDate = q.parseTime(start)
		h.EndDate = q.parseTime(end)
		if h.Budget, err = parseNullAmount(budgetValue, currency); err != nil {
			return nil, err
		}
		if h.Spent, err = parseAmount(spent, string(currency)); err != nil {
			return nil, err
		}
		if h.Carryover, err = parseAmount(carryover, string(currency)); err != nil {
			return nil, err
		}
		if h.Categories, err = unmarshalCategories(categoriesJSON); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (q *queries) UpdateHistorySpent(ctx context.Context, entryID finance.HistoryEntryID, spent finance.Amount) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE budget_history SET spent_value = ? WHERE id = ?`,
		spent.Value.String(), entryID,
	)
	if err != nil {
		return fmt.Errorf("failed to update history: %w", err)
	}
	return requireRow(res, "history entry", string(entryID))
}

// =============================================================================
// SCHEDULES
// =============================================================================

const scheduleColumns = `id, title, amount_value, currency, category, tx_type, note,
	recurrence_json, anchor, active, created_at`

func (q *queries) SaveSchedule(ctx context.Context, sched tracker.Schedule) error {
	recurrenceJSON, err := factory.MarshalRecurrence(sched.Spec)
	if err != nil {
		return err
	}
	tpl := sched.Template

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			amount_value = excluded.amount_value,
			currency = excluded.currency,
			category = excluded.category,
			tx_type = excluded.tx_type,
			note = excluded.note,
			recurrence_json = excluded.recurrence_json,
			anchor = excluded.anchor,
			active = excluded.active
	`
	_, err = q.db.ExecContext(ctx, query,
		sched.ID, tpl.Title, tpl.Amount.Value.String(), tpl.Amount.Currency,
		tpl.Category, tpl.Type, nullString(tpl.Note),
		recurrenceJSON, formatTime(sched.Anchor), sched.Active, formatTime(sched.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (q *queries) GetSchedule(ctx context.Context, id finance.ScheduleID) (tracker.Schedule, error) {
	schedules, err := q.querySchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	if err != nil {
		return tracker.Schedule{}, err
	}
	if len(schedules) == 0 {
		return tracker.Schedule{}, &finance.NotFoundError{Kind: "schedule", ID: string(id)}
	}
	return schedules[0], nil
}

func (q *queries) ListSchedules(ctx context.Context, activeOnly bool) ([]tracker.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return q.querySchedules(ctx, query)
}

func (q *queries) DeleteSchedule(ctx context.Context, id finance.ScheduleID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRow(res, "schedule", string(id))
}

func (q *queries) querySchedules(ctx context.Context, query string, args ...any) ([]tracker.Schedule, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []tracker.Schedule
	for rows.Next() {
		var (
			sched          tracker.Schedule
			tpl            finance.Transaction
			value          string
			currency       string
			note           sql.NullString
			recurrenceJSON string
			anchor         string
			created        string
		)
		if err := rows.Scan(
			&sched.ID, &tpl.Title, &value, &currency, &tpl.Category, &tpl.Type, &note,
			&recurrenceJSON, &anchor, &sched.Active, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		if tpl.Amount, err = parseAmount(value, currency); err != nil {
			return nil, err
		}
		if sched.Spec, err = factory.ParseRecurrence(recurrenceJSON); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sched.ID, err)
		}
		tpl.Note = note.String
		tpl.ScheduleID = sched.ID
		sched.Template = tpl
		sched.Anchor = q.parseTime(anchor)
		sched.CreatedAt = q.parseTime(created)
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// =============================================================================
// ROLLOVER RUNS STORE (tracker.RunStore interface)
// =============================================================================

// SaveRun inserts or updates a run.
func (s *Store) SaveRun(ctx context.Context, r tracker.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO rollover_runs (id, status, checked, rolled, archived, finished, failed,
			materialized, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			checked = excluded.checked,
			rolled = excluded.rolled,
			archived = excluded.archived,
			finished = excluded.finished,
			failed = excluded.failed,
			materialized = excluded.materialized,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if !r.CompletedAt.IsZero() {
		c := formatTime(r.CompletedAt)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.Rollover.Checked, r.Rollover.Rolled, r.Rollover.Archived,
		r.Rollover.Finished, r.Rollover.Failed, r.Materialized, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]tracker.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, status, checked, rolled, archived, finished, failed,
			materialized, error, started_at, completed_at
		FROM rollover_runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []tracker.Run
	for rows.Next() {
		var (
			r         tracker.Run
			errText   sql.NullString
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Status, &r.Rollover.Checked, &r.Rollover.Rolled, &r.Rollover.Archived,
			&r.Rollover.Finished, &r.Rollover.Failed, &r.Materialized, &errText,
			&started, &completed,
		); err != nil {
			return nil, err
		}
		r.Error = errText.String
		r.StartedAt = s.q.parseTime(started)
		if completed.Valid {
			r.CompletedAt = s.q.parseTime(completed.String)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

var (
	_ tracker.TxStore  = (*Store)(nil)
	_ tracker.RunStore = (*Store)(nil)
	_ tracker.Store    = (*queries)(nil)
)

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (q *queries) parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written before the fixed-width layout.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t.In(q.loc)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullAmount(a *finance.Amount) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: a.Value.String(), Valid: true}
}

func parseAmount(value, currency string) (finance.Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return finance.Amount{}, fmt.Errorf("invalid stored amount %q: %w", value, err)
	}
	return finance.Amount{Value: d, Currency: finance.Currency(currency)}, nil
}

func parseNullAmount(value sql.NullString, currency finance.Currency) (*finance.Amount, error) {
	if !value.Valid {
		return nil, nil
	}
	a, err := parseAmount(value.String, string(currency))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func marshalCategories(categories []finance.CategoryID) (string, error) {
	if categories == nil {
		categories = []finance.CategoryID{}
	}
	data, err := json.Marshal(categories)
	return string(data), err
}

func unmarshalCategories(s string) ([]finance.CategoryID, error) {
	var categories []finance.CategoryID
	if err := json.Unmarshal([]byte(s), &categories); err != nil {
		return nil, fmt.Errorf("invalid stored categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, nil
	}
	return categories, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &finance.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
