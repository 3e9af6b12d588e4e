package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/clock"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// start opens a 30-day monthly period (April 1 to May 1).
var start = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *billing.Catalog {
	t.Helper()
	c, err := billing.NewCatalog(
		[]billing.Feature{
			{Code: "api", Name: "API access"},
			{Code: "reports", Name: "Reports"},
			{Code: "seats", Name: "Seats", Kind: billing.FeatureSeats},
		},
		[]billing.Plan{
			{
				Code:     "free",
				Prices:   []billing.Price{{Amount: 0, Currency: "USD", Interval: billing.IntervalMonthly}},
				Features: []string{"api"},
			},
			{
				Code: "basic",
				Prices: []billing.Price{
					{Amount: 1000, Currency: "USD", Interval: billing.IntervalMonthly},
					{Amount: 10000, Currency: "USD", Interval: billing.IntervalYearly},
				},
				Features: []string{"api"},
			},
			{
				Code:     "pro",
				Prices:   []billing.Price{{Amount: 2000, Currency: "USD", Interval: billing.IntervalMonthly}},
				Features: []string{"api", "reports"},
			},
			{
				Code:     "team",
				Prices:   []billing.Price{{Amount: 3000, Currency: "USD", Interval: billing.IntervalMonthly, TrialDays: 14}},
				Features: []string{"api", "reports", "seats"},
			},
			{
				Code:     "euro",
				Prices:   []billing.Price{{Amount: 1500, Currency: "EUR", Interval: billing.IntervalMonthly}},
				Features: []string{"api"},
			},
		},
	)
	require.NoError(t, err)
	return c
}

type testEnv struct {
	svc   *billing.Service
	store *storage.Memory
	pay   *payment.Mock
	clock *clock.Manual
}

func newEnv(t *testing.T, opts ...billing.Option) *testEnv {
	t.Helper()
	return newEnvWith(t, payment.NewMock(), opts...)
}

func newEnvWith(t *testing.T, pay *payment.Mock, opts ...billing.Option) *testEnv {
	t.Helper()
	clk := clock.NewManual(start)
	store := storage.NewMemory(storage.WithSchema(billing.CoreSchema()))

	opts = append([]billing.Option{billing.WithClock(clk)}, opts...)
	svc, err := billing.NewService(context.Background(), testCatalog(t), store, pay, opts...)
	require.NoError(t, err)

	return &testEnv{svc: svc, store: store, pay: pay, clock: clk}
}

// subscribe creates the customer and an active or trialing subscription.
func (e *testEnv) subscribe(t *testing.T, externalID, plan string) *billing.Subscription {
	t.Helper()
	ctx := context.Background()

	_, err := e.svc.CreateCustomer(ctx, billing.CreateCustomerParams{ExternalID: externalID, Email: externalID + "@example.com"})
	require.NoError(t, err)

	res, err := e.svc.CreateSubscription(ctx, billing.CreateSubscriptionParams{CustomerID: externalID, PlanCode: plan})
	require.NoError(t, err)
	require.NotNil(t, res.Subscription)
	return res.Subscription
}

func (e *testEnv) subscription(t *testing.T, externalID string) *billing.Subscription {
	t.Helper()
	sub, err := e.svc.GetSubscription(context.Background(), externalID)
	require.NoError(t, err)
	return sub
}

func (e *testEnv) payments(t *testing.T, externalID string, typ billing.PaymentType) []billing.Payment {
	t.Helper()
	all, err := e.svc.ListPayments(context.Background(), externalID, billing.ListOptions{})
	require.NoError(t, err)

	var out []billing.Payment
	for _, p := range all {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

// requireValidPeriods checks that every stored subscription ends after it starts.
func (e *testEnv) requireValidPeriods(t *testing.T) {
	t.Helper()
	recs, err := e.store.FindMany(context.Background(), billing.ModelSubscription, storage.Query{})
	require.NoError(t, err)
	for _, r := range recs {
		require.True(t, r.Time("current_period_end").After(r.Time("current_period_start")),
			"subscription %s has an empty period", r.ID())
	}
}
