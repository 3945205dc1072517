package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"rentlane/internal/reservation/domain"
)

type queuedJob struct {
	job         domain.ScheduledJob
	lockedUntil time.Time
	done        bool
	completedAt time.Time
}

// Scheduler is an in-memory delayed-job queue implementing both
// domain.SchedulerClient and domain.JobQueue.
type Scheduler struct {
	mu   sync.Mutex
	jobs []*queuedJob
	now  func() time.Time
	err  error
}

func NewScheduler() *Scheduler {
	return &Scheduler{now: time.Now}
}

// WithClock replaces the clock used to compute run times.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// FailWith makes ScheduleOnce return err until reset with nil.
func (s *Scheduler) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Scheduler) ScheduleOnce(ctx context.Context, jobType domain.JobType, payload any, delay time.Duration) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	now := s.now()
	job := domain.ScheduledJob{
		ID:        domain.NewRecordID(),
		Type:      jobType,
		Payload:   body,
		RunAt:     now.Add(delay),
		CreatedAt: now,
	}
	s.jobs = append(s.jobs, &queuedJob{job: job})
	return job.ID, nil
}

func (s *Scheduler) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*queuedJob
	for _, q := range s.jobs {
		if !q.done && !q.job.RunAt.After(now) && !q.lockedUntil.After(now) {
			due = append(due, q)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].job.RunAt.Before(due[j].job.RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.ScheduledJob, 0, len(due))
	for _, q := range due {
		q.lockedUntil = now.Add(lease)
		q.job.Attempts++
		job := q.job
		out = append(out, &job)
	}
	return out, nil
}

func (s *Scheduler) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.find(id)
	if err != nil {
		return err
	}
	q.done = true
	q.completedAt = s.now()
	return nil
}

func (s *Scheduler) Retry(ctx context.Context, id string, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, err := s.find(id)
	if err != nil {
		return err
	}
	q.job.RunAt = runAt
	q.job.LastError = lastError
	q.lockedUntil = time.Time{}
	return nil
}

func (s *Scheduler) find(id string) (*queuedJob, error) {
	for _, q := range s.jobs {
		if q.job.ID == id {
			return q, nil
		}
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// PurgeCompleted drops jobs completed before cutoff.
func (s *Scheduler) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.jobs[:0]
	var n int64
	for _, q := range s.jobs {
		if q.done && q.completedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, q)
	}
	s.jobs = kept
	return n, nil
}

// Pending returns the jobs not yet completed, ordered by run time.
func (s *Scheduler) Pending() []domain.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledJob
	for _, q := range s.jobs {
		if !q.done {
			out = append(out, q.job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out
}

var (
	_ domain.SchedulerClient = (*Scheduler)(nil)
	_ domain.JobQueue        = (*Scheduler)(nil)
)
