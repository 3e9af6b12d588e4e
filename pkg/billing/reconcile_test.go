package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/payment"
)

const webhookSecret = "whsec_test"

func newCheckoutEnv(t *testing.T) (*testEnv, *billing.CreateSubscriptionResult) {
	t.Helper()
	ctx := context.Background()
	e := newEnvWith(t, payment.NewMock(
		payment.WithCheckout("https://pay.example.com/checkout"),
		payment.WithWebhookSecret(webhookSecret),
	))
	_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct"})
	require.NoError(t, err)
	res, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
	require.NoError(t, err)
	require.Equal(t, billing.StatusPending, res.Subscription.Status)
	return e, res
}

func deliver(t *testing.T, e *testEnv, res payment.ConfirmResult) (int, map[string]string) {
	t.Helper()
	req, err := e.pay.NewWebhookRequest(context.Background(), "http://billing.test/webhook", res)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.svc.Handler().ServeHTTP(rec, req)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestWebhookActivatesPendingSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, created := newCheckoutEnv(t)
	e.clock.Set(start.Add(5 * time.Minute))

	event := payment.ConfirmResult{
		SubscriptionID:         created.Subscription.ID,
		Status:                 payment.StatusActive,
		ProviderSubscriptionID: "psub_1",
		ProviderCustomerID:     "pcus_1",
		ProviderPaymentID:      "pay_1",
	}

	code, body := deliver(t, e, event)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "applied", body["status"])

	code, body = deliver(t, e, event)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "duplicate", body["status"])

	sub := e.subscription(t, "acct")
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, "psub_1", sub.ProviderSubscriptionID)
	assert.Equal(t, e.clock.Now(ctx, ""), sub.CurrentPeriodStart)
	assert.Equal(t, sub.CurrentPeriodStart.AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	pays := e.payments(t, "acct", billing.PaymentSubscription)
	require.Len(t, pays, 1, "the pending row is settled, not duplicated")
	assert.Equal(t, billing.PaymentSucceeded, pays[0].Status)
	assert.Equal(t, "pay_1", pays[0].ProviderPaymentID)

	cust, err := e.svc.GetCustomer(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "pcus_1", cust.ProviderCustomerID)

	ok, err := e.svc.CheckFeature(ctx, "acct", "reports")
	require.NoError(t, err)
	assert.True(t, ok)
	e.requireValidPeriods(t)
}

func TestReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("redelivery without payment id", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		event := payment.ConfirmResult{SubscriptionID: created.Subscription.ID, Status: payment.StatusActive}

		out, err := e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, out)

		out, err = e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, out)

		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1)
		assert.Equal(t, billing.PaymentSucceeded, pays[0].Status)
	})

	t.Run("failed checkout keeps the subscription pending", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		event := payment.ConfirmResult{SubscriptionID: created.Subscription.ID, Status: payment.StatusFailed}

		out, err := e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, out)
		assert.Equal(t, billing.StatusPending, e.subscription(t, "acct").Status)

		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1)
		assert.Equal(t, billing.PaymentFailed, pays[0].Status)

		out, err = e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, out)
	})

	t.Run("payment recovers a past due subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")
		e.pay.FailCharges(true)
		_, err := e.svc.ProcessRenewals(ctx, sub.CurrentPeriodEnd)
		require.NoError(t, err)
		require.Equal(t, billing.StatusPastDue, e.subscription(t, "acct").Status)

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    sub.ID,
			Status:            payment.StatusActive,
			ProviderPaymentID: "pay_manual",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, out)

		after := e.subscription(t, "acct")
		assert.Equal(t, billing.StatusActive, after.Status)
		assert.Equal(t, sub.CurrentPeriodEnd, after.CurrentPeriodStart)
		assert.Zero(t, after.FailedAttempts)

		var succeeded int
		for _, p := range e.payments(t, "acct", billing.PaymentRenewal) {
			if p.Status == billing.PaymentSucceeded {
				succeeded++
				assert.Equal(t, "pay_manual", p.ProviderPaymentID)
			}
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("failure moves an active subscription to past due", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    sub.ID,
			Status:            payment.StatusFailed,
			ProviderPaymentID: "pay_declined",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, out)

		after := e.subscription(t, "acct")
		assert.Equal(t, billing.StatusPastDue, after.Status)
		assert.Equal(t, 1, after.FailedAttempts)
		require.NotNil(t, after.PastDueSince)

		out, err = e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    sub.ID,
			Status:            payment.StatusFailed,
			ProviderPaymentID: "pay_declined",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, out)
		assert.Equal(t, 1, e.subscription(t, "acct").FailedAttempts)
	})

	t.Run("canceled subscriptions are left alone", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")
		_, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
		require.NoError(t, err)

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{SubscriptionID: sub.ID, Status: payment.StatusActive})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, out)
		assert.Equal(t, billing.StatusCanceled, e.subscription(t, "acct").Status)
	})

	t.Run("capture after cancel settles the pending payment", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		_, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
		require.NoError(t, err)

		event := payment.ConfirmResult{
			SubscriptionID:    created.Subscription.ID,
			Status:            payment.StatusActive,
			ProviderPaymentID: "pay_late",
		}
		out, err := e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeOrphaned, out)
		assert.Equal(t, billing.StatusCanceled, e.subscription(t, "acct").Status)

		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1, "the pending row is settled in place")
		assert.Equal(t, billing.PaymentSucceeded, pays[0].Status)
		assert.Equal(t, "pay_late", pays[0].ProviderPaymentID)
		assert.Positive(t, pays[0].Refundable())

		out, err = e.svc.Reconcile(ctx, event)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, out)
		assert.Len(t, e.payments(t, "acct", billing.PaymentSubscription), 1)
	})

	t.Run("failed checkout after cancel", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		_, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
		require.NoError(t, err)

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    created.Subscription.ID,
			Status:            payment.StatusFailed,
			ProviderPaymentID: "pay_declined",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeOrphaned, out)

		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1)
		assert.Equal(t, billing.PaymentFailed, pays[0].Status)
	})

	t.Run("second capture for an active subscription is recorded", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    sub.ID,
			Status:            payment.StatusActive,
			ProviderPaymentID: "pay_extra",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeOrphaned, out)

		after := e.subscription(t, "acct")
		assert.Equal(t, sub.CurrentPeriodStart, after.CurrentPeriodStart)
		assert.Equal(t, sub.CurrentPeriodEnd, after.CurrentPeriodEnd)

		var extra []billing.Payment
		for _, p := range e.payments(t, "acct", billing.PaymentSubscription) {
			if p.ProviderPaymentID == "pay_extra" {
				extra = append(extra, p)
			}
		}
		require.Len(t, extra, 1)
		assert.Equal(t, billing.PaymentSucceeded, extra[0].Status)
		assert.Contains(t, extra[0].Reason, string(billing.StatusActive))
	})

	t.Run("retried checkout settles only the latest attempt", func(t *testing.T) {
		t.Parallel()
		e, first := newCheckoutEnv(t)
		e.clock.Set(start.Add(time.Minute))
		second, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		require.NoError(t, err)
		require.Equal(t, first.Subscription.ID, second.Subscription.ID)

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{
			SubscriptionID:    second.Subscription.ID,
			Status:            payment.StatusActive,
			ProviderPaymentID: "pay_2",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, out)
		assert.Equal(t, billing.StatusActive, e.subscription(t, "acct").Status)

		byStatus := map[billing.PaymentStatus][]billing.Payment{}
		for _, p := range e.payments(t, "acct", billing.PaymentSubscription) {
			byStatus[p.Status] = append(byStatus[p.Status], p)
		}
		assert.Empty(t, byStatus[billing.PaymentPending])
		require.Len(t, byStatus[billing.PaymentSucceeded], 1)
		assert.Equal(t, "pay_2", byStatus[billing.PaymentSucceeded][0].ProviderPaymentID)
		require.Len(t, byStatus[billing.PaymentFailed], 1)
		assert.Equal(t, "checkout superseded", byStatus[billing.PaymentFailed][0].Reason)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.svc.Reconcile(ctx, payment.ConfirmResult{SubscriptionID: "nope", Status: payment.StatusActive})
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)

		out, err := e.svc.Reconcile(ctx, payment.ConfirmResult{SubscriptionID: "nope", Status: payment.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, out)
	})
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		req, err := e.pay.NewWebhookRequest(context.Background(), "/webhook", payment.ConfirmResult{
			SubscriptionID: created.Subscription.ID,
			Status:         payment.StatusActive,
		})
		require.NoError(t, err)
		req.Header.Set(payment.HeaderSignature, "forged")

		rec := httptest.NewRecorder()
		e.svc.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, billing.StatusPending, e.subscription(t, "acct").Status)
	})

	t.Run("ignored event", func(t *testing.T) {
		t.Parallel()
		e, created := newCheckoutEnv(t)
		code, body := deliver(t, e, payment.ConfirmResult{
			SubscriptionID: created.Subscription.ID,
			Status:         payment.StatusPending,
		})
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ignored", body["status"])
	})

	t.Run("reconciliation error", func(t *testing.T) {
		t.Parallel()
		e, _ := newCheckoutEnv(t)
		code, body := deliver(t, e, payment.ConfirmResult{SubscriptionID: "missing", Status: payment.StatusActive})
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("wrong method", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		rec := httptest.NewRecorder()
		e.svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

// Cancellation and plan changes race gateway events; whichever transaction
// commits first, the ledger ends with every payment settled once.
func TestReconcileConcurrentWithStateChanges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const rounds = 20

	t.Run("cancel and checkout capture", func(t *testing.T) {
		t.Parallel()
		for range rounds {
			e, created := newCheckoutEnv(t)

			var (
				wg        sync.WaitGroup
				out       billing.ReconcileOutcome
				reconErr  error
				cancelErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, cancelErr = e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
			}()
			go func() {
				defer wg.Done()
				out, reconErr = e.svc.Reconcile(ctx, payment.ConfirmResult{
					SubscriptionID:    created.Subscription.ID,
					Status:            payment.StatusActive,
					ProviderPaymentID: "pay_1",
				})
			}()
			wg.Wait()

			require.NoError(t, cancelErr)
			require.NoError(t, reconErr)
			assert.Contains(t, []billing.ReconcileOutcome{billing.OutcomeApplied, billing.OutcomeOrphaned}, out)
			assert.Equal(t, billing.StatusCanceled, e.subscription(t, "acct").Status)

			pays := e.payments(t, "acct", billing.PaymentSubscription)
			require.Len(t, pays, 1)
			assert.Equal(t, billing.PaymentSucceeded, pays[0].Status)
			assert.Equal(t, "pay_1", pays[0].ProviderPaymentID)
			e.requireValidPeriods(t)
		}
	})

	t.Run("plan change and gateway renewal", func(t *testing.T) {
		t.Parallel()
		periodEnd := start.AddDate(0, 1, 0)
		for range rounds {
			e := newEnvWith(t, payment.NewMock(payment.WithGatewayRenewals()))
			sub := e.subscribe(t, "acct", "basic")
			e.clock.Set(periodEnd)

			var (
				wg        sync.WaitGroup
				out       billing.ReconcileOutcome
				reconErr  error
				changeErr error
			)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, changeErr = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
			}()
			go func() {
				defer wg.Done()
				out, reconErr = e.svc.Reconcile(ctx, payment.ConfirmResult{
					SubscriptionID:         sub.ID,
					Status:                 payment.StatusActive,
					ProviderSubscriptionID: sub.ProviderSubscriptionID,
					ProviderPaymentID:      "pay_r1",
				})
			}()
			wg.Wait()

			require.NoError(t, changeErr)
			require.NoError(t, reconErr)
			assert.Equal(t, billing.OutcomeApplied, out)

			after := e.subscription(t, "acct")
			assert.Equal(t, "pro", after.PlanCode)
			assert.Equal(t, billing.StatusActive, after.Status)
			assert.Equal(t, periodEnd, after.CurrentPeriodStart)
			assert.Equal(t, periodEnd.AddDate(0, 1, 0), after.CurrentPeriodEnd)

			renewals := e.payments(t, "acct", billing.PaymentRenewal)
			require.Len(t, renewals, 1)
			assert.Equal(t, billing.PaymentSucceeded, renewals[0].Status)
			assert.Equal(t, "pay_r1", renewals[0].ProviderPaymentID)
			assert.Empty(t, e.pay.Charges())
			e.requireValidPeriods(t)
		}
	})
}
