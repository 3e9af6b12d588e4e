package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsdk/pkg/billing"
)

func TestCreateRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setup := func(t *testing.T) (*testEnv, billing.Payment) {
		t.Helper()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")
		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1)
		return e, pays[0]
	}

	t.Run("partial then remaining", func(t *testing.T) {
		t.Parallel()
		e, orig := setup(t)

		refund, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID, Amount: 400, Reason: "goodwill"})
		require.NoError(t, err)
		assert.Equal(t, billing.PaymentRefund, refund.Type)
		assert.Equal(t, billing.PaymentRefunded, refund.Status)
		assert.Equal(t, int64(400), refund.Amount)
		assert.Equal(t, orig.ID, refund.RefundOf)
		assert.Equal(t, "goodwill", refund.Reason)

		updated, err := e.svc.GetPayment(ctx, orig.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(400), updated.RefundedAmount)
		assert.Equal(t, billing.PaymentSucceeded, updated.Status)
		assert.Equal(t, int64(600), updated.Refundable())

		_, err = e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID, Amount: 700})
		assert.ErrorIs(t, err, billing.ErrInvalidRefundAmount)

		rest, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(600), rest.Amount)

		_, err = e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID})
		assert.ErrorIs(t, err, billing.ErrPaymentNotRefundable)

		assert.Len(t, e.payments(t, "acct", billing.PaymentRefund), 2)
		calls := e.pay.Refunds()
		require.Len(t, calls, 2)
		assert.False(t, calls[0].Full)
		assert.False(t, calls[1].Full, "the remainder is not the whole capture")
	})

	t.Run("whole payment is a full refund", func(t *testing.T) {
		t.Parallel()
		e, orig := setup(t)

		refund, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID})
		require.NoError(t, err)
		assert.Equal(t, orig.Amount, refund.Amount)

		calls := e.pay.Refunds()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].Full)
		assert.Equal(t, orig.ProviderPaymentID, calls[0].ProviderPaymentID)
	})

	t.Run("declined", func(t *testing.T) {
		t.Parallel()
		e, orig := setup(t)
		e.pay.FailRefunds(true)

		refund, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID, Amount: 100})
		require.ErrorIs(t, err, billing.ErrRefundFailed)
		require.NotNil(t, refund)
		assert.Equal(t, billing.PaymentFailed, refund.Status)

		updated, err := e.svc.GetPayment(ctx, orig.ID)
		require.NoError(t, err)
		assert.Zero(t, updated.RefundedAmount)
	})

	t.Run("refund rows are not refundable", func(t *testing.T) {
		t.Parallel()
		e, orig := setup(t)

		refund, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID, Amount: 100})
		require.NoError(t, err)

		_, err = e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: refund.ID})
		assert.ErrorIs(t, err, billing.ErrPaymentNotRefundable)
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		e, orig := setup(t)

		_, err := e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: orig.ID, Amount: -5})
		assert.ErrorIs(t, err, billing.ErrInvalidRefundAmount)

		_, err = e.svc.CreateRefund(ctx, billing.RefundParams{PaymentID: "missing"})
		assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
	})
}

func TestListPayments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	e.subscribe(t, "acct", "basic")
	e.subscribe(t, "other", "pro")

	for range 2 {
		e.clock.AddDate(0, 1, 0)
		_, err := e.svc.ProcessRenewals(ctx, e.clock.Now(ctx, ""))
		require.NoError(t, err)
	}

	all, err := e.svc.ListPayments(ctx, "acct", billing.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "newest first")
	}
	assert.Equal(t, billing.PaymentRenewal, all[0].Type)
	assert.Equal(t, billing.PaymentSubscription, all[2].Type)

	page, err := e.svc.ListPayments(ctx, "acct", billing.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)

	_, err = e.svc.ListPayments(ctx, "ghost", billing.ListOptions{})
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	_, err = e.svc.GetPayment(ctx, "")
	assert.ErrorIs(t, err, billing.ErrPaymentNotFound)
}
