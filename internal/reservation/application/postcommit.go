package application

import (
	"context"
	"fmt"
	"time"

	"rentlane/internal/common/logging"
	"rentlane/internal/common/metrics"
	"rentlane/internal/reservation/domain"
)

// sideEffect is one best-effort step run after a transaction committed.
type sideEffect struct {
	name string
	run  func(ctx context.Context) error
}

// runPostCommit runs every step in order. A failing or panicking step is
// logged and counted; it never stops later steps or changes the caller's result.
func (s *Service) runPostCommit(ctx context.Context, op string, id domain.ReservationID, steps ...sideEffect) {
	for _, step := range steps {
		if step.run == nil {
			continue
		}
		if err := runStep(ctx, step); err != nil {
			metrics.RecordSideEffectFailure(step.name)
			logging.WarnContext(ctx, "post-commit step failed",
				"operation", op,
				"reservation_id", id.String(),
				"step", step.name,
				"error", err,
			)
		}
	}
}

func runStep(ctx context.Context, step sideEffect) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return step.run(ctx)
}

func (s *Service) scheduleStep(jobType domain.JobType, id domain.ReservationID, delay time.Duration) sideEffect {
	if s.deps.Scheduler == nil {
		return sideEffect{}
	}
	return sideEffect{
		name: "schedule_" + string(jobType),
		run: func(ctx context.Context) error {
			_, err := s.deps.Scheduler.ScheduleOnce(ctx, jobType, domain.ReservationJobPayload{ReservationID: id.String()}, max(delay, 0))
			return err
		},
	}
}

// searchCachePattern matches every cached search result that may list the vehicle.
const searchCachePattern = "search:*"

func (s *Service) invalidateSearchStep() sideEffect {
	if s.deps.SearchCache == nil {
		return sideEffect{}
	}
	return sideEffect{
		name: "invalidate_search_cache",
		run: func(ctx context.Context) error {
			_, err := s.deps.SearchCache.InvalidatePattern(ctx, searchCachePattern)
			return err
		},
	}
}

func (s *Service) revalidatePagesStep(vehicleID domain.VehicleID) sideEffect {
	if s.deps.Pages == nil {
		return sideEffect{}
	}
	return sideEffect{
		name: "revalidate_pages",
		run: func(ctx context.Context) error {
			return s.deps.Pages.Revalidate(ctx, "/vehicles/"+vehicleID.String(), "/search")
		},
	}
}

func (s *Service) notifyStep(typ domain.NotificationType, recipient domain.PartyID, id domain.ReservationID, data map[string]string) sideEffect {
	if s.deps.Notifier == nil {
		return sideEffect{}
	}
	return sideEffect{
		name: "notify_" + string(typ),
		run: func(ctx context.Context) error {
			return s.deps.Notifier.Send(ctx, typ, domain.Notification{
				Recipient:     recipient,
				ReservationID: id.String(),
				Data:          data,
			})
		},
	}
}

// contractStep renders the contract with the given watermark, stores it and
// records the reference on the reservation in a short transaction of its own.
func (s *Service) contractStep(r *domain.Reservation, watermark domain.ContractWatermark) sideEffect {
	if s.deps.Renderer == nil || s.deps.Contracts == nil {
		return sideEffect{}
	}
	data := domain.NewContractData(r, watermark, s.now())
	return sideEffect{
		name: "regenerate_contract",
		run: func(ctx context.Context) error {
			doc, contentType, err := s.deps.Renderer.Generate(ctx, data)
			if err != nil {
				return fmt.Errorf("render contract: %w", err)
			}
			key := fmt.Sprintf("contracts/%s/%s-%d", data.ReservationID, watermark, data.GeneratedAt.Unix())
			ref, err := s.deps.Contracts.Put(ctx, key, doc, contentType)
			if err != nil {
				return fmt.Errorf("store contract: %w", err)
			}
			return s.recordContractRef(ctx, data.ReservationID, ref)
		},
	}
}

func (s *Service) recordContractRef(ctx context.Context, id domain.ReservationID, ref string) error {
	tx, err := s.deps.Store.Begin(ctx, domain.ReadCommitted)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	r, err := tx.Reservations().FindByIDForUpdate(ctx, id)
	if err != nil {
		return err
	}
	r.SetContractRef(ref, s.now())
	if err := tx.Reservations().Update(ctx, r); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) refundStep(p *domain.Payment) sideEffect {
	if s.deps.Payments == nil || p == nil || p.Status != domain.PaymentRefunded || !p.RefundedAmount.IsPositive() {
		return sideEffect{}
	}
	amount := p.Amount
	amount.Amount = p.RefundedAmount
	txID := p.ProviderTransactionID
	return sideEffect{
		name: "issue_refund",
		run: func(ctx context.Context) error {
			return s.deps.Payments.Refund(ctx, txID, &amount)
		},
	}
}

func (s *Service) idempotencyStep(key string, res IdempotentResult) sideEffect {
	if key == "" {
		return sideEffect{}
	}
	return sideEffect{
		name: "commit_idempotency",
		run: func(ctx context.Context) error {
			s.idem.CommitResult(ctx, key, res)
			return nil
		},
	}
}
