/*
store.go - Persistence interface for transactions, budgets and schedules

PURPOSE:
  Defines the interface between the tracker service and the database. The
  pure core (recurrence, budget) never writes; the service persists what the
  core returns through this interface.

KEY INTERFACES:
  Store:    CRUD for transactions, budgets, budget history and schedules
  TxStore:  Store plus WithTx for atomic read-modify-write sequences
  RunStore: Log of scheduled rollover/materialize runs

HISTORY CONTRACT:
  Budget history is append-ordered. Entries are never deleted or reordered;
  only their Spent amount is corrected (UpdateHistorySpent) when a
  back-dated transaction is added, edited or deleted.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - tracker/store/memory.go: In-memory for testing

SEE ALSO:
  - service.go: Uses TxStore
*/
package tracker

import (
	"context"
	"time"

	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/recurrence"
)

// =============================================================================
// RECORDS
// =============================================================================

// BudgetRecord is a budget definition plus the spend of its live period.
type BudgetRecord struct {
	Definition budget.Definition
	Spent      finance.Amount
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Schedule is the persisted recurrence state of a recurring transaction.
// Anchor is the date of the last materialized occurrence (or the creation
// instant before the first one).
type Schedule struct {
	ID        finance.ScheduleID
	Template  finance.Transaction
	Spec      recurrence.Spec
	Anchor    time.Time
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store persists tracker records. Get methods return a *finance.NotFoundError
// for missing ids.
type Store interface {
	// Transactions
	SaveTransaction(ctx context.Context, tx finance.Transaction) error
	GetTransaction(ctx context.Context, id finance.TransactionID) (finance.Transaction, error)
	DeleteTransaction(ctx context.Context, id finance.TransactionID) error
	// ListTransactions returns transactions dated in [from, to], oldest first.
	// Zero bounds are open.
	ListTransactions(ctx context.Context, from, to time.Time) ([]finance.Transaction, error)
	TransactionExists(ctx context.Context, id finance.TransactionID) (bool, error)

	// Budgets
	SaveBudget(ctx context.Context, b BudgetRecord) error
	GetBudget(ctx context.Context, id finance.BudgetID) (BudgetRecord, error)
	ListBudgets(ctx context.Context) ([]BudgetRecord, error)
	DeleteBudget(ctx context.Context, id finance.BudgetID) error

	// Budget history, append-only apart from Spent corrections.
	AppendHistory(ctx context.Context, id finance.BudgetID, entries []budget.HistoryEntry) error
	History(ctx context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error)
	UpdateHistorySpent(ctx context.Context, entryID finance.HistoryEntryID, spent finance.Amount) error

	// Recurring schedules
	SaveSchedule(ctx context.Context, s Schedule) error
	GetSchedule(ctx context.Context, id finance.ScheduleID) (Schedule, error)
	ListSchedules(ctx context.Context, activeOnly bool) ([]Schedule, error)
	DeleteSchedule(ctx context.Context, id finance.ScheduleID) error
}

// TxStore wraps Store with transaction support.
// If fn returns an error every write made through the passed Store is
// rolled back.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RUN LOG
// =============================================================================

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one pass of the background job.
type Run struct {
	ID           string
	Status       RunStatus
	Rollover     RolloverReport
	Materialized int
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
