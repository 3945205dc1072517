package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"rentlane/internal/reservation/domain"
)

// JobQueue implements domain.SchedulerClient and domain.JobQueue on the
// scheduled_jobs table. Workers lease due rows with FOR UPDATE SKIP LOCKED,
// so several worker processes can drain the queue concurrently.
type JobQueue struct {
	db  Executor
	now func() time.Time
}

// NewJobQueue creates a new JobQueue.
func NewJobQueue(db Executor) *JobQueue {
	return &JobQueue{db: db, now: time.Now}
}

// ScheduleOnce stores a job due after delay.
func (q *JobQueue) ScheduleOnce(ctx context.Context, jobType domain.JobType, payload any, delay time.Duration) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	now := q.now().UTC()
	id := domain.NewRecordID()
	_, err = q.db.Exec(ctx, `
		INSERT INTO reservation.scheduled_jobs (id, job_type, payload, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		id, string(jobType), body, now.Add(delay), now,
	)
	if err != nil {
		return "", translateError(err)
	}
	return id, nil
}

// ClaimDue leases up to limit due jobs until now+lease, oldest first.
// A job whose lease ran out without Complete or Retry is claimable again.
func (q *JobQueue) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.ScheduledJob, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE reservation.scheduled_jobs
		SET locked_until = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM reservation.scheduled_jobs
			WHERE completed_at IS NULL
			  AND run_at <= $1
			  AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY run_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, payload, run_at, attempts, last_error, created_at`,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var jobs []*domain.ScheduledJob
	for rows.Next() {
		var (
			job       domain.ScheduledJob
			jobType   string
			payload   []byte
			lastError pgtype.Text
		)
		if err := rows.Scan(&job.ID, &jobType, &payload, &job.RunAt, &job.Attempts, &lastError, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Type = domain.JobType(jobType)
		job.Payload = json.RawMessage(payload)
		job.LastError = lastError.String
		job.RunAt = job.RunAt.UTC()
		job.CreatedAt = job.CreatedAt.UTC()
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(err)
	}

	// RETURNING does not keep the subquery order.
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	return jobs, nil
}

// Complete marks a job done.
func (q *JobQueue) Complete(ctx context.Context, id string) error {
	return q.exec(ctx, id, `
		UPDATE reservation.scheduled_jobs
		SET completed_at = $2, locked_until = NULL
		WHERE id = $1`,
		id, q.now().UTC(),
	)
}

// Retry releases the lease and reschedules the job at runAt.
func (q *JobQueue) Retry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	return q.exec(ctx, id, `
		UPDATE reservation.scheduled_jobs
		SET run_at = $2, last_error = $3, locked_until = NULL
		WHERE id = $1 AND completed_at IS NULL`,
		id, runAt, lastError,
	)
}

// PurgeCompleted deletes jobs completed before cutoff.
func (q *JobQueue) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM reservation.scheduled_jobs WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

func (q *JobQueue) exec(ctx context.Context, id, query string, args ...any) error {
	tag, err := q.db.Exec(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

var (
	_ domain.SchedulerClient = (*JobQueue)(nil)
	_ domain.JobQueue        = (*JobQueue)(nil)
)
