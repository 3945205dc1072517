package application

import (
	"context"
	"encoding/json"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/reservation/domain"
)

const processingMarker = "processing"

// IdempotentResult is the replayable outcome of an idempotent operation.
type IdempotentResult struct {
	ReservationID string `json:"reservation_id"`
	PaymentURL    string `json:"payment_url,omitempty"`
	Status        string `json:"status,omitempty"`
}

// IdempotencyCoordinator deduplicates retried operations with a volatile
// cache in front of the durable idempotency record.
type IdempotencyCoordinator struct {
	cache     domain.Cache
	repos     domain.Repositories
	lockTTL   time.Duration
	resultTTL time.Duration
	now       func() time.Time
}

func NewIdempotencyCoordinator(cache domain.Cache, repos domain.Repositories, lockTTL, resultTTL time.Duration) *IdempotencyCoordinator {
	return &IdempotencyCoordinator{
		cache:     cache,
		repos:     repos,
		lockTTL:   lockTTL,
		resultTTL: resultTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func cacheKey(key string) string {
	return "idem:" + key
}

// CheckExisting returns the recorded result for key, or nil when there is
// none. A key still being processed is a Conflict.
func (c *IdempotencyCoordinator) CheckExisting(ctx context.Context, key string) (*IdempotentResult, error) {
	if key == "" {
		return nil, nil
	}

	value, ok, err := c.cache.Get(ctx, cacheKey(key))
	switch {
	case err != nil:
		logging.WarnContext(ctx, "idempotency cache read failed, using durable record",
			"idempotency_key", key, "error", err)
	case ok && value == processingMarker:
		return nil, domain.ErrOperationInProgress.WithMessage("operation with key %q is already in progress", key)
	case ok:
		var res IdempotentResult
		if err := json.Unmarshal([]byte(value), &res); err == nil {
			metrics.RecordIdempotencyCacheHit()
			return &res, nil
		}
		logging.WarnContext(ctx, "discarding unreadable idempotency cache entry", "idempotency_key", key)
	}

	rec, err := c.repos.Idempotency().Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(c.now()) {
		return nil, nil
	}
	return &IdempotentResult{ReservationID: rec.ReservationID.String(), PaymentURL: rec.PaymentURL}, nil
}

// AcquireLock marks key as in progress. It is a no-op for an empty key.
// When the cache is unreachable the durable record's uniqueness still
// protects the operation, so the failure is logged and ignored.
func (c *IdempotencyCoordinator) AcquireLock(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	ok, err := c.cache.SetNX(ctx, cacheKey(key), processingMarker, c.lockTTL)
	if err != nil {
		logging.WarnContext(ctx, "idempotency lock unavailable", "idempotency_key", key, "error", err)
		return nil
	}
	if !ok {
		return domain.ErrOperationInProgress.WithMessage("operation with key %q is already in progress", key)
	}
	return nil
}

// CommitResult caches the final result after the owning transaction committed.
// Failures are logged only.
func (c *IdempotencyCoordinator) CommitResult(ctx context.Context, key string, res IdempotentResult) {
	if key == "" {
		return
	}
	body, err := json.Marshal(res)
	if err == nil {
		err = c.cache.Set(ctx, cacheKey(key), string(body), c.resultTTL)
	}
	if err != nil {
		logging.WarnContext(ctx, "failed to cache idempotent result", "idempotency_key", key, "error", err)
	}
}

// ReleaseLock drops the in-progress marker so a legitimate retry can run.
func (c *IdempotencyCoordinator) ReleaseLock(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.cache.Delete(ctx, cacheKey(key)); err != nil {
		logging.WarnContext(ctx, "failed to release idempotency lock", "idempotency_key", key, "error", err)
	}
}

// NewRecord builds the durable record written with the reservation.
func (c *IdempotencyCoordinator) NewRecord(key string, id domain.ReservationID, paymentURL string) *domain.IdempotencyRecord {
	now := c.now()
	return &domain.IdempotencyRecord{
		Key:           key,
		ReservationID: id,
		PaymentURL:    paymentURL,
		ExpiresAt:     now.Add(c.resultTTL),
		CreatedAt:     now,
	}
}
