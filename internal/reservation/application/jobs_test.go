package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentlane/internal/reservation/application"
	"rentlane/internal/reservation/domain"
)

func TestExpire(t *testing.T) {
	t.Run("expires an unpaid reservation after its deadline", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "").ReservationID
		h.clock.Advance(30 * time.Minute)

		res, err := h.svc.Expire(h.ctx, domain.MustParseReservationID(id))
		require.NoError(t, err)
		assert.Equal(t, application.ExpireResult{Action: application.ExpireExpired, Reason: domain.ReasonPaymentExpired}, res)

		r := h.reservation(t, id)
		assert.Equal(t, domain.StatusCancelled, r.Status())
		assert.Equal(t, domain.SystemActor, r.CancelledBy())
		assert.Equal(t, domain.PaymentFailed, h.payment(t, id).Status)
		assert.Contains(t, r.ContractRef(), "/EXPIRED-")

		sent := h.notifier.Sent(domain.NotifyCancelled)
		require.Len(t, sent, 1)
		assert.Equal(t, tenantID, sent[0].Notification.Recipient)
	})

	t.Run("skips a paid reservation", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "").ReservationID
		h.pay(t, id)
		h.clock.Advance(time.Hour)

		res, err := h.svc.Expire(h.ctx, domain.MustParseReservationID(id))
		require.NoError(t, err)
		assert.Equal(t, application.ExpireSkipped, res.Action)
		assert.Equal(t, application.SkipPaymentConfirmed, res.Reason)
		assert.Equal(t, domain.StatusPaid, h.reservation(t, id).Status())
	})

	t.Run("skips before the deadline", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "").ReservationID
		h.clock.Advance(10 * time.Minute)

		res, err := h.svc.Expire(h.ctx, domain.MustParseReservationID(id))
		require.NoError(t, err)
		assert.Equal(t, application.SkipNotDue, res.Reason)
	})

	t.Run("skips a cancelled reservation", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "").ReservationID
		_, err := h.svc.Cancel(h.ctx, cancelReq(id, tenantID, domain.RoleTenant))
		require.NoError(t, err)
		h.clock.Advance(time.Hour)

		res, err := h.svc.Expire(h.ctx, domain.MustParseReservationID(id))
		require.NoError(t, err)
		assert.Equal(t, application.SkipStatusChanged, res.Reason)
	})

	t.Run("skips an unknown reservation", func(t *testing.T) {
		h := newHarness(t)
		res, err := h.svc.Expire(h.ctx, domain.NewReservationID())
		require.NoError(t, err)
		assert.Equal(t, application.SkipNotFound, res.Reason)
	})

	t.Run("retries a serialization failure", func(t *testing.T) {
		h := newHarness(t)
		id := h.create(t, "").ReservationID
		h.clock.Advance(time.Hour)
		h.store.InjectCommitErrors(domain.ErrSerializationFailure)

		res, err := h.svc.Expire(h.ctx, domain.MustParseReservationID(id))
		require.NoError(t, err)
		assert.Equal(t, application.ExpireExpired, res.Action)
	})
}

func TestSweepOverduePayments(t *testing.T) {
	h := newHarness(t)
	overdue := h.create(t, "").ReservationID
	paid, err := h.svc.Create(h.ctx, application.CreateRequest{
		TenantID: tenant2ID, VehicleID: vehicleID, StartDate: "2026-04-01", EndDate: "2026-04-03",
	})
	require.NoError(t, err)
	h.pay(t, paid.ReservationID)
	h.clock.Advance(time.Hour)

	n, err := h.svc.SweepOverduePayments(h.ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusCancelled, h.reservation(t, overdue).Status())
	assert.Equal(t, domain.StatusPaid, h.reservation(t, paid.ReservationID).Status())

	n, err = h.svc.SweepOverduePayments(h.ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSignatureReminder(t *testing.T) {
	h := newHarness(t)
	id := h.create(t, "").ReservationID
	rid := domain.MustParseReservationID(id)

	sent, err := h.svc.SendSignatureReminder(h.ctx, rid)
	require.NoError(t, err)
	assert.False(t, sent, "not paid yet")

	h.pay(t, id)
	sent, err = h.svc.SendSignatureReminder(h.ctx, rid)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = h.svc.SendSignatureReminder(h.ctx, rid)
	require.NoError(t, err)
	assert.False(t, sent, "reminded once")

	reminders := h.notifier.Sent(domain.NotifySignatureReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, tenantID, reminders[0].Notification.Recipient)
}

func TestAutoClose(t *testing.T) {
	h := newHarness(t)
	id := h.inProgress(t)
	rid := domain.MustParseReservationID(id)
	h.clock.Set(rentalEnd.Add(24 * time.Hour))

	require.NoError(t, h.svc.AutoClose(h.ctx, rid))
	require.NoError(t, h.svc.AutoClose(h.ctx, rid))

	reminders := h.notifier.Sent(domain.NotifyCheckOutReminder)
	require.Len(t, reminders, 1)
	assert.Equal(t, ownerID, reminders[0].Notification.Recipient)
	assert.Len(t, h.store.LedgerEntries(rid), 1)

	_, err := h.svc.CheckOut(h.ctx, application.TransitionRequest{ReservationID: rid, ActorID: ownerID})
	require.NoError(t, err)
	require.NoError(t, h.svc.AutoClose(h.ctx, rid))
	assert.Len(t, h.notifier.Sent(domain.NotifyCheckOutReminder), 1)
}

func TestRequestReviews(t *testing.T) {
	h := newHarness(t)
	id := h.inProgress(t)
	rid := domain.MustParseReservationID(id)

	require.NoError(t, h.svc.RequestReviews(h.ctx, rid))
	assert.Empty(t, h.notifier.Sent(domain.NotifyReviewRequested), "rental still running")

	_, err := h.svc.CheckOut(h.ctx, application.TransitionRequest{ReservationID: rid, ActorID: ownerID})
	require.NoError(t, err)
	require.NoError(t, h.svc.RequestReviews(h.ctx, rid))
	assert.Len(t, h.notifier.Sent(domain.NotifyReviewRequested), 2)
}

func TestPurgeIdempotencyRecords(t *testing.T) {
	h := newHarness(t)
	h.create(t, "key-1")

	n, err := h.svc.PurgeIdempotencyRecords(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(25 * time.Hour)
	n, err = h.svc.PurgeIdempotencyRecords(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
