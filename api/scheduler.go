/*
scheduler.go - Background job for period rollover and recurring transactions

PURPOSE:
  Periodically archives elapsed budget periods and materializes due
  occurrences of recurring transactions, so the live state catches up with
  the calendar without a client asking.

DESIGN:
  - robfig/cron drives the job from a standard 5-field expression,
    evaluated in the service location
  - Rollover runs before materialization, so occurrences dated in a new
    period land in the live period
  - Both steps are idempotent; a missed tick is caught up by the next one
  - Every pass is recorded as a tracker.Run for audit and UI display
  - Runs are serialized: a manual trigger waits for a running tick

USAGE:
  scheduler := NewScheduler(svc, runs, logger, "5 0 * * *")
  scheduler.Start(true)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRun endpoint (manual run)
  - tracker/service.go: RolloverBudgets, MaterializeDue
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/walletwise/budget-engine/tracker"
)

// Scheduler runs the rollover and materialization job.
type Scheduler struct {
	svc  *tracker.Service
	runs tracker.RunStore
	log  *logrus.Logger
	spec string

	cron *cron.Cron
	mu   sync.Mutex // serializes runs
}

// NewScheduler creates a scheduler for the given cron expression. The
// expression is parsed when Start is called.
func NewScheduler(svc *tracker.Service, runs tracker.RunStore, logger *logrus.Logger, spec string) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{svc: svc, runs: runs, log: logger, spec: spec}
}

// Start schedules the job. With runOnStart the job also runs once right away
// in the background.
func (s *Scheduler) Start(runOnStart bool) error {
	c := cron.New(cron.WithLocation(s.svc.Location()))
	if _, err := c.AddFunc(s.spec, s.tick); err != nil {
		return err
	}
	s.cron = c
	c.Start()

	s.log.WithField("schedule", s.spec).Info("scheduler started")
	if runOnStart {
		go s.tick()
	}
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tick() {
	// Errors are already recorded on the run.
	_, _ = s.RunOnce(context.Background())
}

// RunOnce performs one pass and records it. The returned run is saved even
// when the pass failed; the error is the pass's error, or the error saving
// the run.
func (s *Scheduler) RunOnce(ctx context.Context) (tracker.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.svc.Now()
	run := tracker.Run{ID: uuid.NewString(), StartedAt: now}
	logger := s.log.WithField("run_id", run.ID)
	logger.Debug("job started")

	report, rolloverErr := s.svc.RolloverBudgets(ctx, now)
	created, materializeErr := s.svc.MaterializeDue(ctx, now)

	run.Rollover = report
	run.Materialized = created
	run.CompletedAt = s.svc.Now()
	run.Status = tracker.RunCompleted
	err := errors.Join(rolloverErr, materializeErr)
	if err != nil {
		run.Status = tracker.RunFailed
		run.Error = err.Error()
	}

	if saveErr := s.runs.SaveRun(ctx, run); saveErr != nil {
		logger.WithError(saveErr).Error("saving run failed")
		if err == nil {
			err = saveErr
		}
	}

	entry := logger.WithFields(logrus.Fields{
		"checked":      report.Checked,
		"rolled":       report.Rolled,
		"archived":     report.Archived,
		"finished":     report.Finished,
		"materialized": created,
		"duration":     run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String(),
	})
	if err != nil {
		entry.WithError(err).Warn("job finished with errors")
	} else {
		entry.Info("job finished")
	}
	return run, err
}

// Runs lists recorded runs, most recent first.
func (s *Scheduler) Runs(ctx context.Context, limit int) ([]tracker.Run, error) {
	return s.runs.ListRuns(ctx, limit)
}
