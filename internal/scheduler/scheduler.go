package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"rentlane/internal/common/config"
	"rentlane/internal/common/logging"
)

// Jobs are the recurring jobs run by the scheduler.
type Jobs interface {
	DrainDueJobs()
	SweepOverduePayments()
	ReconcileCredits()
	PurgeIdempotencyRecords()
}

// Schedules holds the cron specs, seconds first.
type Schedules struct {
	JobPoll   string
	Sweep     string
	Reconcile string
}

// SchedulesFromConfig reads the cron specs from configuration.
func SchedulesFromConfig(cfg *config.Config) Schedules {
	return Schedules{
		JobPoll:   cfg.JobPollSchedule,
		Sweep:     cfg.SweepSchedule,
		Reconcile: cfg.ReconcileSchedule,
	}
}

// Scheduler manages cron job scheduling
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
}

// NewScheduler creates a scheduler and registers every job. A job still
// running when its next tick fires is skipped for that tick.
func NewScheduler(jobs Jobs, schedules Schedules) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{
		cron: c,
		jobs: jobs,
	}
	if err := s.registerJobs(schedules); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerJobs(schedules Schedules) error {
	entries := []struct {
		name string
		spec string
		run  func()
	}{
		{"drain_due_jobs", schedules.JobPoll, s.jobs.DrainDueJobs},
		{"sweep_overdue_payments", schedules.Sweep, s.jobs.SweepOverduePayments},
		{"reconcile_credits", schedules.Reconcile, s.jobs.ReconcileCredits},
		{"purge_idempotency_records", schedules.Reconcile, s.jobs.PurgeIdempotencyRecords},
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.run); err != nil {
			return fmt.Errorf("registering %s job with spec %q: %w", e.name, e.spec, err)
		}
	}

	logging.Info("All cron jobs registered", "count", len(entries))
	return nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	logging.Info("Starting cron scheduler")
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	logging.Info("Stopping cron scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	logging.Info("Cron scheduler stopped")
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logging.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logging.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
