package application

import (
	"errors"
	"time"

	"rentlane/internal/common/config"
	"rentlane/internal/common/metrics"
	"rentlane/internal/reservation/domain"
)

// Dependencies are the collaborators of the reservation service.
// Store, Locker, Cache and Payments are required; the rest may be nil, in
// which case the matching post-commit step is skipped.
type Dependencies struct {
	Store       domain.Store
	Cache       domain.Cache
	Locker      domain.Locker
	Payments    domain.PaymentProvider
	Renderer    domain.ContractRenderer
	Contracts   domain.ContractStore
	Notifier    domain.NotificationDispatcher
	SearchCache domain.CacheInvalidator
	Pages       domain.PageCache
	Scheduler   domain.SchedulerClient
	Auth        domain.AuthResolver
}

// Options tune timers and retry behavior.
type Options struct {
	PaymentCallbackURL string
	PaymentExpiry      time.Duration
	SignatureExpiry    time.Duration
	AutoCloseGrace     time.Duration
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
	PaymentLockTTL     time.Duration
	// MaxTxRetries bounds retries after a serialization failure.
	MaxTxRetries int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		PaymentExpiry:      30 * time.Minute,
		SignatureExpiry:    48 * time.Hour,
		AutoCloseGrace:     24 * time.Hour,
		IdempotencyTTL:     24 * time.Hour,
		IdempotencyLockTTL: 60 * time.Second,
		PaymentLockTTL:     30 * time.Second,
		MaxTxRetries:       3,
	}
}

// OptionsFromConfig maps application configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.PaymentCallbackURL = cfg.PaymentCallbackURL
	opts.PaymentExpiry = cfg.PaymentExpiry
	opts.SignatureExpiry = cfg.SignatureExpiry
	opts.AutoCloseGrace = cfg.AutoCloseGrace
	opts.IdempotencyTTL = cfg.IdempotencyTTL
	opts.IdempotencyLockTTL = cfg.IdempotencyLockTTL
	opts.PaymentLockTTL = cfg.PaymentLockTTL
	return opts
}

// Service orchestrates the reservation lifecycle. Every mutating operation
// opens an explicit transaction, passes it to the components it consults,
// commits, and only then runs its best-effort post-commit steps.
type Service struct {
	deps  Dependencies
	opts  Options
	now   func() time.Time
	avail *AvailabilityLock
	idem  *IdempotencyCoordinator
	wall  *WalletLedger
}

// NewService creates the reservation service.
func NewService(deps Dependencies, opts Options) *Service {
	s := &Service{
		deps:  deps,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		avail: NewAvailabilityLock(),
	}
	s.idem = NewIdempotencyCoordinator(deps.Cache, deps.Store, opts.IdempotencyLockTTL, opts.IdempotencyTTL)
	s.wall = NewWalletLedger(deps.Store)
	return s
}

// WithClock replaces the service clock. Used by tests and scenario runners.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.idem.now = now
	s.wall.now = now
	return s
}

// Wallets exposes the wallet ledger.
func (s *Service) Wallets() *WalletLedger {
	return s.wall
}

// Idempotency exposes the idempotency coordinator.
func (s *Service) Idempotency() *IdempotencyCoordinator {
	return s.idem
}

// shouldRetry reports whether a failed attempt may be retried and records the retry.
func (s *Service) shouldRetry(op string, attempt int, err error) bool {
	if !errors.Is(err, domain.ErrSerializationFailure) || attempt > s.opts.MaxTxRetries {
		return false
	}
	metrics.RecordSerializationRetry(op)
	return true
}

func observeTx(op string, start time.Time) {
	metrics.RecordTransactionDuration(op, time.Since(start))
}

func recordTransition(from, to domain.Status) {
	if from != to {
		metrics.RecordTransition(string(from), string(to))
	}
}
