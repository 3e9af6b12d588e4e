// Package payment defines the gateway boundary of the billing engine.
//
// An Adapter initiates subscription payments (usually a hosted checkout),
// turns signed gateway webhooks into ConfirmResult values, charges stored
// payment methods for renewals and upgrades, and issues refunds. Failures are
// returned as typed results rather than errors so the engine can always
// record a ledger entry before reporting the failure.
//
// Mock is the reference implementation used for development and tests. It
// succeeds by default, can be switched into checkout mode with WithCheckout,
// and can be told to decline with FailProcess, FailCharges and FailRefunds.
// Its webhooks are JSON bodies signed with HMAC-SHA256 over
// "timestamp.payload":
//
//	m := payment.NewMock(payment.WithCheckout("https://pay.example.com"), payment.WithWebhookSecret(secret))
//	req, _ := m.NewWebhookRequest(ctx, "/billing/webhook", payment.ConfirmResult{
//	    SubscriptionID:    subID,
//	    Status:            payment.StatusActive,
//	    ProviderPaymentID: "pay_123",
//	})
//
// Package paddle provides an Adapter for Paddle Billing.
package payment
