package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentlane/internal/common/config"
	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/common/types"
	"rentlane/internal/reservation/application"
	"rentlane/internal/reservation/domain"
)

// Reservations is the part of the reservation service driven by jobs.
type Reservations interface {
	Expire(ctx context.Context, id domain.ReservationID) (application.ExpireResult, error)
	SendSignatureReminder(ctx context.Context, id domain.ReservationID) (bool, error)
	AutoClose(ctx context.Context, id domain.ReservationID) error
	RequestReviews(ctx context.Context, id domain.ReservationID) error
	SweepOverduePayments(ctx context.Context, limit int) (int, error)
	ReconcileCredits(ctx context.Context, limit int) (int, error)
	PurgeIdempotencyRecords(ctx context.Context) (int64, error)
}

// Options tune how due jobs are claimed and retried.
type Options struct {
	BatchSize   int
	Lease       time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	// JobTimeout bounds a single cron tick.
	JobTimeout time.Duration
	// CompletedRetention is how long finished jobs stay in the queue.
	CompletedRetention time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   50,
		Lease:       2 * time.Minute,
		MaxAttempts: 8,
		RetryBase:   15 * time.Second,
		RetryMax:    30 * time.Minute,
		JobTimeout:  4 * time.Minute,

		CompletedRetention: 7 * 24 * time.Hour,
	}
}

// OptionsFromConfig maps application configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.JobBatchSize > 0 {
		opts.BatchSize = cfg.JobBatchSize
	}
	if cfg.JobMaxAttempts > 0 {
		opts.MaxAttempts = cfg.JobMaxAttempts
	}
	return opts
}

// completedPurger is implemented by queues that keep finished jobs.
type completedPurger interface {
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

type handlerFunc func(ctx context.Context, id domain.ReservationID) error

// JobRunner coordinates all scheduled jobs.
type JobRunner struct {
	svc      Reservations
	queue    domain.JobQueue
	opts     Options
	now      func() time.Time
	handlers map[domain.JobType]handlerFunc
}

// NewJobRunner creates a job runner draining queue into svc.
func NewJobRunner(svc Reservations, queue domain.JobQueue, opts Options) *JobRunner {
	jr := &JobRunner{
		svc:   svc,
		queue: queue,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
	}
	jr.handlers = map[domain.JobType]handlerFunc{
		domain.JobPaymentExpiry:   jr.expire,
		domain.JobSignatureExpiry: jr.remindSignature,
		domain.JobAutoClose:       svc.AutoClose,
		domain.JobPostCheckout:    svc.RequestReviews,
	}
	return jr
}

// WithClock replaces the clock used for claims and retry times.
func (jr *JobRunner) WithClock(now func() time.Time) *JobRunner {
	jr.now = now
	return jr
}

// runWithRecovery wraps job execution with panic recovery and records the
// outcome.
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), jr.opts.JobTimeout)
	defer cancel()
	ctx = logging.WithCorrelationID(ctx, types.NewCorrelationID())
	ctx = logging.WithJob(ctx, jobName)

	defer func() {
		if r := recover(); r != nil {
			logging.ErrorContext(ctx, "Job panicked", "panic", r)
			metrics.RecordJobRun(jobName, "panic")
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
	}()

	logging.DebugContext(ctx, "Starting job")
	if err = jobFunc(ctx); err != nil {
		logging.ErrorContext(ctx, "Job failed", "error", err)
		metrics.RecordJobRun(jobName, "error")
		return err
	}
	logging.DebugContext(ctx, "Job completed")
	metrics.RecordJobRun(jobName, "ok")
	return nil
}

// DrainDueJobs runs every delayed job that is due.
func (jr *JobRunner) DrainDueJobs() {
	_ = jr.runWithRecovery("drain_due_jobs", func(ctx context.Context) error {
		_, err := jr.DrainDue(ctx)
		return err
	})
}

// SweepOverduePayments expires reservations whose payment deadline passed.
func (jr *JobRunner) SweepOverduePayments() {
	_ = jr.runWithRecovery("sweep_overdue_payments", func(ctx context.Context) error {
		n, err := jr.svc.SweepOverduePayments(ctx, jr.opts.BatchSize)
		if n > 0 {
			logging.InfoContext(ctx, "Expired overdue reservations", "count", n)
		}
		return err
	})
}

// ReconcileCredits credits finalized check-ins missing a rental credit.
func (jr *JobRunner) ReconcileCredits() {
	_ = jr.runWithRecovery("reconcile_credits", func(ctx context.Context) error {
		n, err := jr.svc.ReconcileCredits(ctx, jr.opts.BatchSize)
		if n > 0 {
			logging.WarnContext(ctx, "Reconciled missing wallet credits", "count", n)
		}
		return err
	})
}

// PurgeIdempotencyRecords deletes expired durable idempotency records and
// old completed jobs.
func (jr *JobRunner) PurgeIdempotencyRecords() {
	_ = jr.runWithRecovery("purge_idempotency_records", func(ctx context.Context) error {
		n, err := jr.svc.PurgeIdempotencyRecords(ctx)
		if n > 0 {
			logging.InfoContext(ctx, "Purged idempotency records", "count", n)
		}
		return errors.Join(err, jr.purgeCompletedJobs(ctx))
	})
}

func (jr *JobRunner) purgeCompletedJobs(ctx context.Context) error {
	purger, ok := jr.queue.(completedPurger)
	if !ok {
		return nil
	}
	n, err := purger.PurgeCompleted(ctx, jr.now().Add(-jr.opts.CompletedRetention))
	if err != nil {
		return fmt.Errorf("purging completed jobs: %w", err)
	}
	if n > 0 {
		logging.InfoContext(ctx, "Purged completed jobs", "count", n)
	}
	return nil
}

// RunAllMaintenanceJobs runs every recurring job once (for manual execution).
func (jr *JobRunner) RunAllMaintenanceJobs() {
	jr.DrainDueJobs()
	jr.SweepOverduePayments()
	jr.ReconcileCredits()
	jr.PurgeIdempotencyRecords()
}

// DrainDue claims one batch of due jobs and runs them in run-time order.
// Failed jobs are rescheduled with exponential backoff until MaxAttempts,
// after which they are completed and logged as abandoned. It returns the
// number of jobs that succeeded.
func (jr *JobRunner) DrainDue(ctx context.Context) (int, error) {
	jobs, err := jr.queue.ClaimDue(ctx, jr.now(), jr.opts.Lease, jr.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claiming due jobs: %w", err)
	}

	done := 0
	var errs []error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		runErr := jr.run(ctx, job)
		if runErr == nil {
			if err := jr.queue.Complete(ctx, job.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			metrics.RecordJobRun(string(job.Type), "ok")
			done++
			continue
		}
		if err := jr.fail(ctx, job, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return done, errors.Join(errs...)
}

// errPermanent marks a job that can never succeed.
var errPermanent = errors.New("permanent job failure")

func (jr *JobRunner) run(ctx context.Context, job *domain.ScheduledJob) error {
	handler, ok := jr.handlers[job.Type]
	if !ok {
		return fmt.Errorf("%w: unknown job type %q", errPermanent, job.Type)
	}
	var payload domain.ReservationJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("%w: decoding payload: %v", errPermanent, err)
	}
	id, err := domain.ParseReservationID(payload.ReservationID)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	ctx = logging.WithActorID(ctx, string(domain.SystemActor))
	ctx = logging.WithReservationID(ctx, id.String())
	logging.DebugContext(ctx, "Running job", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)
	return handler(ctx, id)
}

func (jr *JobRunner) fail(ctx context.Context, job *domain.ScheduledJob, runErr error) error {
	if errors.Is(runErr, errPermanent) || job.Attempts >= jr.opts.MaxAttempts {
		logging.ErrorContext(ctx, "Abandoning job", "job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts, "error", runErr)
		metrics.RecordJobRun(string(job.Type), "abandoned")
		return jr.queue.Complete(ctx, job.ID)
	}

	runAt := jr.now().Add(jr.backoff(job.Attempts))
	logging.WarnContext(ctx, "Job failed, retrying", "job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts, "run_at", runAt, "error", runErr)
	metrics.RecordJobRun(string(job.Type), "retry")
	return jr.queue.Retry(ctx, job.ID, runAt, runErr.Error())
}

// backoff doubles RetryBase per attempt, capped at RetryMax.
func (jr *JobRunner) backoff(attempts int) time.Duration {
	d := jr.opts.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= jr.opts.RetryMax {
			return jr.opts.RetryMax
		}
	}
	return d
}

func (jr *JobRunner) expire(ctx context.Context, id domain.ReservationID) error {
	_, err := jr.svc.Expire(ctx, id)
	return err
}

func (jr *JobRunner) remindSignature(ctx context.Context, id domain.ReservationID) error {
	_, err := jr.svc.SendSignatureReminder(ctx, id)
	return err
}
