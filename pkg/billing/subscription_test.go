package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/payment"
)

func TestCreateCustomer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)

	c, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct_1", Email: "a@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, start, c.CreatedAt)

	again, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct_1", Email: "other@example.com"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "a@example.com", again.Email, "existing customer is returned unchanged")

	_, err = e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{})
	assert.ErrorIs(t, err, billing.ErrMissingExternalID)

	got, err := e.svc.GetCustomer(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = e.svc.GetCustomer(ctx, "acct_2")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestCreateSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("paid plan activates on immediate payment", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")

		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Equal(t, billing.IntervalMonthly, sub.Interval)
		assert.Equal(t, start, sub.CurrentPeriodStart)
		assert.Equal(t, start.AddDate(0, 1, 0), sub.CurrentPeriodEnd)
		assert.NotEmpty(t, sub.ProviderSubscriptionID)

		pays := e.payments(t, "acct", billing.PaymentSubscription)
		require.Len(t, pays, 1)
		assert.Equal(t, billing.PaymentSucceeded, pays[0].Status)
		assert.Equal(t, int64(1000), pays[0].Amount)
		assert.Equal(t, sub.ID, pays[0].SubscriptionID)

		cust, err := e.svc.GetCustomer(ctx, "acct")
		require.NoError(t, err)
		assert.NotEmpty(t, cust.ProviderCustomerID)
		e.requireValidPeriods(t)
	})

	t.Run("free plan skips the gateway", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "free")

		assert.Equal(t, billing.StatusActive, sub.Status)
		assert.Empty(t, e.pay.Processed())
		assert.Empty(t, e.payments(t, "acct", billing.PaymentSubscription))
	})

	t.Run("trial starts trialing", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "team")

		assert.Equal(t, billing.StatusTrialing, sub.Status)
		require.NotNil(t, sub.TrialEnd)
		assert.Equal(t, start.AddDate(0, 0, 14), *sub.TrialEnd)
		assert.Equal(t, *sub.TrialEnd, sub.CurrentPeriodEnd)
		assert.Empty(t, e.pay.Processed())
	})

	t.Run("hosted checkout leaves the subscription pending", func(t *testing.T) {
		t.Parallel()
		e := newEnvWith(t, payment.NewMock(payment.WithCheckout("https://pay.example.com/checkout")))
		_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct"})
		require.NoError(t, err)

		res, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{
			CustomerID: "acct",
			PlanCode:   "pro",
			SuccessURL: "https://app.example.com/ok",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.StatusPending, res.Subscription.Status)
		assert.Contains(t, res.RedirectURL, "https://pay.example.com/checkout?")
		assert.NotEmpty(t, res.Subscription.ProviderCheckoutSessionID)
		require.NotNil(t, res.Payment)
		assert.Equal(t, billing.PaymentPending, res.Payment.Status)

		ok, err := e.svc.CheckFeature(ctx, "acct", "reports")
		require.NoError(t, err)
		assert.False(t, ok, "pending grants nothing")

		// An abandoned checkout is reused by the next attempt.
		again, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "basic"})
		require.NoError(t, err)
		assert.Equal(t, res.Subscription.ID, again.Subscription.ID)
		assert.Equal(t, "basic", again.Subscription.PlanCode)
	})

	t.Run("declined checkout stores only the payment", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.pay.FailProcess(true)
		_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct"})
		require.NoError(t, err)

		res, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		require.ErrorIs(t, err, billing.ErrPaymentFailed)
		require.NotNil(t, res)
		assert.Nil(t, res.Subscription)
		require.NotNil(t, res.Payment)
		assert.Equal(t, billing.PaymentFailed, res.Payment.Status)

		_, err = e.svc.GetSubscription(ctx, "acct")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("one live subscription per customer", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")

		_, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		assert.ErrorIs(t, err, billing.ErrSubscriptionExists)
	})

	t.Run("lookup errors", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "acct"})
		require.NoError(t, err)

		_, err = e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "gold"})
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)

		_, err = e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro", Interval: billing.IntervalYearly})
		assert.ErrorIs(t, err, billing.ErrIntervalNotAvailable)

		_, err = e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "ghost", PlanCode: "pro"})
		assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
	})
}

func TestGetSubscriptionReturnsLatestCanceled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv(t)
	sub := e.subscribe(t, "acct", "basic")

	_, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
	require.NoError(t, err)

	got := e.subscription(t, "acct")
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, billing.StatusCanceled, got.Status)
	require.NotNil(t, got.CanceledAt)
	assert.Equal(t, start, *got.CanceledAt)
}

func TestChangeSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	halfway := start.Add(15 * 24 * time.Hour)

	t.Run("upgrade charges the prorated difference", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		before := e.subscribe(t, "acct", "basic")
		e.clock.Set(halfway)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro", Prorate: true})
		require.NoError(t, err)
		assert.Equal(t, billing.PolicyImmediate, res.Policy)
		assert.Equal(t, int64(500), res.Proration.Net)
		require.NotNil(t, res.Payment)
		assert.Equal(t, billing.PaymentUpgrade, res.Payment.Type)
		assert.Equal(t, billing.PaymentSucceeded, res.Payment.Status)
		assert.Equal(t, int64(500), res.Payment.Amount)

		sub := e.subscription(t, "acct")
		assert.Equal(t, "pro", sub.PlanCode)
		assert.Equal(t, before.CurrentPeriodStart, sub.CurrentPeriodStart)
		assert.Equal(t, before.CurrentPeriodEnd, sub.CurrentPeriodEnd)

		charges := e.pay.Charges()
		require.Len(t, charges, 1)
		assert.Equal(t, int64(500), charges[0].Amount)

		ok, err := e.svc.CheckFeature(ctx, "acct", "reports")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("upgrade without proration switches for free", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")
		e.clock.Set(halfway)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		require.NoError(t, err)
		assert.Nil(t, res.Payment)
		assert.Empty(t, e.pay.Charges())
		assert.Equal(t, "pro", e.subscription(t, "acct").PlanCode)
	})

	t.Run("declined upgrade leaves the plan alone", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")
		e.clock.Set(halfway)
		e.pay.FailCharges(true)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro", Prorate: true})
		require.ErrorIs(t, err, billing.ErrPaymentFailed)
		require.NotNil(t, res.Payment)
		assert.Equal(t, billing.PaymentFailed, res.Payment.Status)
		assert.Equal(t, "basic", e.subscription(t, "acct").PlanCode)

		failed := e.payments(t, "acct", billing.PaymentUpgrade)
		require.Len(t, failed, 1)
		assert.Equal(t, billing.PaymentFailed, failed[0].Status)
	})

	t.Run("downgrade is deferred to renewal", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "pro")
		e.clock.Set(halfway)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "free"})
		require.NoError(t, err)
		assert.Equal(t, billing.PolicyDeferred, res.Policy)
		assert.Nil(t, res.Payment)

		sub := e.subscription(t, "acct")
		assert.Equal(t, "pro", sub.PlanCode)
		assert.Equal(t, "free", sub.ScheduledPlanCode)
		assert.Equal(t, billing.IntervalMonthly, sub.ScheduledInterval)
		assert.Empty(t, e.pay.Refunds())
		assert.Empty(t, e.payments(t, "acct", billing.PaymentRefund))

		// Still on pro until the period ends.
		report, err := e.svc.ProcessRenewals(ctx, halfway.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, report.Due)
		assert.Equal(t, "pro", e.subscription(t, "acct").PlanCode)

		report, err = e.svc.ProcessRenewals(ctx, sub.CurrentPeriodEnd)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Changed)

		after := e.subscription(t, "acct")
		assert.Equal(t, "free", after.PlanCode)
		assert.Empty(t, after.ScheduledPlanCode)
		assert.Equal(t, billing.StatusActive, after.Status)
		assert.Equal(t, sub.CurrentPeriodEnd, after.CurrentPeriodStart)
		assert.Empty(t, e.pay.Charges(), "free renewal charges nothing")
		e.requireValidPeriods(t)
	})

	t.Run("selecting the current plan drops a scheduled change", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "pro")

		_, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "basic"})
		require.NoError(t, err)

		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		require.NoError(t, err)
		assert.False(t, e.subscription(t, "acct").HasScheduledChange())

		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		assert.ErrorIs(t, err, billing.ErrAlreadyOnPlan)
	})

	t.Run("immediate strategy applies downgrades at once", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, billing.WithChangeStrategy(billing.ImmediateAlways))
		e.subscribe(t, "acct", "pro")
		e.clock.Set(halfway)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "basic", Prorate: true})
		require.NoError(t, err)
		assert.Equal(t, billing.PolicyImmediate, res.Policy)
		assert.Equal(t, int64(-500), res.Proration.Net)
		assert.Nil(t, res.Payment)
		assert.Empty(t, e.pay.Charges())
		assert.Equal(t, "basic", e.subscription(t, "acct").PlanCode)
	})

	t.Run("interval change starts a fresh period", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")
		e.clock.Set(halfway)

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{
			CustomerID: "acct",
			PlanCode:   "basic",
			Interval:   billing.IntervalYearly,
			Prorate:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.Proration.Credit)
		assert.Equal(t, int64(10000), res.Proration.Charge)
		assert.Equal(t, int64(9500), res.Proration.Net)

		sub := e.subscription(t, "acct")
		assert.Equal(t, billing.IntervalYearly, sub.Interval)
		assert.Equal(t, halfway, sub.CurrentPeriodStart)
		assert.Equal(t, halfway.AddDate(1, 0, 0), sub.CurrentPeriodEnd)
	})

	t.Run("trial switches without charge", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "team")

		res, err := e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "basic", Prorate: true})
		require.NoError(t, err)
		assert.Nil(t, res.Payment)

		sub := e.subscription(t, "acct")
		assert.Equal(t, "basic", sub.PlanCode)
		assert.Equal(t, billing.StatusTrialing, sub.Status)
	})

	t.Run("rejections", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: "idle"})
		require.NoError(t, err)
		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "idle", PlanCode: "pro"})
		assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)

		e.subscribe(t, "acct", "basic")
		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "euro"})
		assert.ErrorIs(t, err, billing.ErrCurrencyMismatch)

		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro", Interval: billing.IntervalYearly})
		assert.ErrorIs(t, err, billing.ErrIntervalNotAvailable)

		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "gold"})
		assert.ErrorIs(t, err, billing.ErrPlanNotFound)

		e.pay.FailCharges(true)
		_, err = e.svc.ProcessRenewals(ctx, start.AddDate(0, 1, 0))
		require.NoError(t, err)
		_, err = e.svc.ChangeSubscription(ctx, billing.ChangeSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		assert.ErrorIs(t, err, billing.ErrInvalidSubscriptionState)
	})
}

func TestCancelSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("at period end", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		sub := e.subscribe(t, "acct", "basic")
		e.clock.Set(start.AddDate(0, 0, 10))

		got, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelAtPeriodEnd)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, got.Status)
		require.NotNil(t, got.CancelAt)
		assert.Equal(t, sub.CurrentPeriodEnd, *got.CancelAt)

		ok, err := e.svc.CheckFeature(ctx, "acct", "api")
		require.NoError(t, err)
		assert.True(t, ok, "still entitled until cancelAt")

		report, err := e.svc.ProcessRenewals(ctx, sub.CurrentPeriodEnd)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Canceled)
		assert.Zero(t, report.Renewed)

		after := e.subscription(t, "acct")
		assert.Equal(t, billing.StatusCanceled, after.Status)
		require.NotNil(t, after.CanceledAt)
		assert.Equal(t, sub.CurrentPeriodEnd, *after.CanceledAt)
		assert.Nil(t, after.CancelAt)
		assert.Empty(t, e.pay.Charges())
		assert.Empty(t, e.payments(t, "acct", billing.PaymentRenewal))

		ok, err = e.svc.CheckFeature(ctx, "acct", "api")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("immediately", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")

		got, err := e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCanceled, got.Status)

		_, err = e.svc.CancelSubscription(ctx, "acct", billing.CancelImmediately)
		assert.ErrorIs(t, err, billing.ErrNoActiveSubscription)

		// A new subscription can start after cancellation.
		res, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: "acct", PlanCode: "pro"})
		require.NoError(t, err)
		assert.NotEqual(t, got.ID, res.Subscription.ID)
	})

	t.Run("invalid mode", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		e.subscribe(t, "acct", "basic")

		_, err := e.svc.CancelSubscription(ctx, "acct", "whenever")
		assert.ErrorIs(t, err, billing.ErrInvalidCancelMode)
	})
}
