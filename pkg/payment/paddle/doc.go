// Package paddle implements payment.Adapter on top of the official Paddle
// Billing Go SDK.
//
// ProcessPayment creates a transaction for the plan's Paddle price and
// returns its hosted checkout URL. The engine's subscription and customer ids
// are stored in the transaction's custom_data, which Paddle echoes back on
// every transaction webhook; ConfirmPayment verifies the Paddle-Signature
// header and maps transaction.completed / transaction.paid to an active
// confirmation and transaction.payment_failed to a failed one.
//
//	provider, err := paddle.New(paddle.Config{
//	    APIKey:        os.Getenv("PADDLE_API_KEY"),
//	    WebhookSecret: os.Getenv("PADDLE_WEBHOOK_SECRET"),
//	    Environment:   "sandbox",
//	})
package paddle
