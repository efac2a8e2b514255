// Package store provides in-memory tracker.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/walletwise/budget-engine/budget"
	"github.com/walletwise/budget-engine/finance"
	"github.com/walletwise/budget-engine/tracker"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	st   *state
	runs []tracker.Run
}

// state holds the data and implements tracker.Store without locking. Memory
// guards it with a mutex; a transaction view uses it directly while WithTx
// holds the lock.
type state struct {
	transactions map[finance.TransactionID]finance.Transaction
	budgets      map[finance.BudgetID]tracker.BudgetRecord
	history      map[finance.BudgetID][]budget.HistoryEntry
	schedules    map[finance.ScheduleID]tracker.Schedule
}

func newState() *state {
	return &state{
		transactions: make(map[finance.TransactionID]finance.Transaction),
		budgets:      make(map[finance.BudgetID]tracker.BudgetRecord),
		history:      make(map[finance.BudgetID][]budget.HistoryEntry),
		schedules:    make(map[finance.ScheduleID]tracker.Schedule),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) SaveTransaction(ctx context.Context, tx finance.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id finance.TransactionID) (finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetTransaction(ctx, id)
}

func (m *Memory) DeleteTransaction(ctx context.Context, id finance.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteTransaction(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, from, to time.Time) ([]finance.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTransactions(ctx, from, to)
}

func (m *Memory) TransactionExists(ctx context.Context, id finance.TransactionID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TransactionExists(ctx, id)
}

func (m *Memory) SaveBudget(ctx context.Context, b tracker.BudgetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveBudget(ctx, b)
}

func (m *Memory) GetBudget(ctx context.Context, id finance.BudgetID) (tracker.BudgetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBudget(ctx, id)
}

func (m *Memory) ListBudgets(ctx context.Context) ([]tracker.BudgetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBudgets(ctx)
}

func (m *Memory) DeleteBudget(ctx context.Context, id finance.BudgetID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteBudget(ctx, id)
}

func (m *Memory) AppendHistory(ctx context.Context, id finance.BudgetID, entries []budget.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendHistory(ctx, id, entries)
}

func (m *Memory) History(ctx context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.History(ctx, id)
}

func (m *Memory) UpdateHistorySpent(ctx context.Context, entryID finance.HistoryEntryID, spent finance.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateHistorySpent(ctx, entryID, spent)
}

func (m *Memory) SaveSchedule(ctx context.Context, s tracker.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSchedule(ctx, s)
}

func (m *Memory) GetSchedule(ctx context.Context, id finance.ScheduleID) (tracker.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetSchedule(ctx, id)
}

func (m *Memory) ListSchedules(ctx context.Context, activeOnly bool) ([]tracker.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListSchedules(ctx, activeOnly)
}

func (m *Memory) DeleteSchedule(ctx context.Context, id finance.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteSchedule(ctx, id)
}

// =============================================================================
// STATE - Unlocked operations
// =============================================================================

func (s *state) SaveTransaction(_ context.Context, tx finance.Transaction) error {
	s.transactions[tx.ID] = tx
	return nil
}

func (s *state) GetTransaction(_ context.Context, id finance.TransactionID) (finance.Transaction, error) {
	tx, ok := s.transactions[id]
	if !ok {
		return finance.Transaction{}, &finance.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	return tx, nil
}

func (s *state) DeleteTransaction(_ context.Context, id finance.TransactionID) error {
	if _, ok := s.transactions[id]; !ok {
		return &finance.NotFoundError{Kind: "transaction", ID: string(id)}
	}
	delete(s.transactions, id)
	return nil
}

func (s *state) ListTransactions(_ context.Context, from, to time.Time) ([]finance.Transaction, error) {
	var result []finance.Transaction
	for _, tx := range s.transactions {
		if !from.IsZero() && tx.Date.Before(from) {
			continue
		}
		if !to.IsZero() && tx.Date.After(to) {
			continue
		}
		result = append(result, tx)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date.Equal(result[j].Date) {
			return result[i].ID < result[j].ID
		}
		return result[i].Date.Before(result[j].Date)
	})
	return result, nil
}

func (s *state) TransactionExists(_ context.Context, id finance.TransactionID) (bool, error) {
	_, ok := s.transactions[id]
	return ok, nil
}

func (s *state) SaveBudget(_ context.Context, b tracker.BudgetRecord) error {
	s.budgets[b.Definition.ID] = b
	return nil
}

func (s *state) GetBudget(_ context.Context, id finance.BudgetID) (tracker.BudgetRecord, error) {
	b, ok := s.budgets[id]
	if !ok {
		return tracker.BudgetRecord{}, &finance.NotFoundError{Kind: "budget", ID: string(id)}
	}
	return b, nil
}

func (s *state) ListBudgets(_ context.Context) ([]tracker.BudgetRecord, error) {
	result := make([]tracker.BudgetRecord, 0, len(s.budgets))
	for _, b := range s.budgets {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Definition.ID < result[j].Definition.ID
	})
	return result, nil
}

func (s *state) DeleteBudget(_ context.Context, id finance.BudgetID) error {
	if _, ok := s.budgets[id]; !ok {
		return &finance.NotFoundError{Kind: "budget", ID: string(id)}
	}
	delete(s.budgets, id)
	delete(s.history, id)
	return nil
}

func (s *state) AppendHistory(_ context.Context, id finance.BudgetID, entries []budget.HistoryEntry) error {
	if _, ok := s.budgets[id]; !ok {
		return &finance.NotFoundError{Kind: "budget", ID: string(id)}
	}
	s.history[id] = append(s.history[id], entries...)
	return nil
}

func (s *state) History(_ context.Context, id finance.BudgetID) ([]budget.HistoryEntry, error) {
	result := make([]budget.HistoryEntry, len(s.history[id]))
	copy(result, s.history[id])
	return result, nil
}

func (s *state) UpdateHistorySpent(_ context.Context, entryID finance.HistoryEntryID, spent finance.Amount) error {
	for id, entries := range s.history {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Spent = spent
				s.history[id] = entries
				return nil
			}
		}
	}
	return &finance.NotFoundError{Kind: "history entry", ID: string(entryID)}
}

func (s *state) SaveSchedule(_ context.Context, sched tracker.Schedule) error {
	s.schedules[sched.ID] = sched
	return nil
}

func (s *state) GetSchedule(_ context.Context, id finance.ScheduleID) (tracker.Schedule, error) {
	sched, ok := s.schedules[id]
	if !ok {
		return tracker.Schedule{}, &finance.NotFoundError{Kind: "schedule", ID: string(id)}
	}
	return sched, nil
}

func (s *state) ListSchedules(_ context.Context, activeOnly bool) ([]tracker.Schedule, error) {
	var result []tracker.Schedule
	for _, sched := range s.schedules {
		if activeOnly && !sched.Active {
			continue
		}
		result = append(result, sched)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt) ||
			(result[i].CreatedAt.Equal(result[j].CreatedAt) && result[i].ID < result[j].ID)
	})
	return result, nil
}

func (s *state) DeleteSchedule(_ context.Context, id finance.ScheduleID) error {
	if _, ok := s.schedules[id]; !ok {
		return &finance.NotFoundError{Kind: "schedule", ID: string(id)}
	}
	delete(s.schedules, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot that is
// restored if fn fails. fn must only use the Store it is given.
func (tm *TxMemory) WithTx(_ context.Context, fn func(tracker.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()
	if err := fn(tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.budgets {
		c.budgets[k] = v
	}
	for k, v := range s.history {
		c.history[k] = append([]budget.HistoryEntry(nil), v...)
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	return c
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, r tracker.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			m.runs[i] = r
			return nil
		}
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]tracker.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []tracker.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}

var (
	_ tracker.RunStore = (*Memory)(nil)
	_ tracker.TxStore  = (*TxMemory)(nil)
	_ tracker.Store    = (*state)(nil)
)
