package paddle

import "errors"

var (
	ErrMissingAPIKey        = errors.New("paddle API key is required")
	ErrMissingWebhookSecret = errors.New("paddle webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid paddle environment")
	ErrMissingPriceID       = errors.New("paddle price ID is required")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from paddle")
	ErrMissingTransactionID = errors.New("paddle transaction ID is required")
	ErrPartialRefund        = errors.New("paddle partial refunds are not supported")
)
