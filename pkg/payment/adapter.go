package payment

import (
	"context"
	"net/http"
)

// Adapter is the gateway boundary consumed by the billing engine.
//
// ProcessPayment, Charge and Refund never return Go errors: failures are
// reported through the result's Status and Err so the caller can always
// persist a ledger row. ConfirmPayment returns an error only when the request
// cannot be authenticated or parsed, and a nil result for events that carry
// nothing to reconcile.
type Adapter interface {
	ProcessPayment(ctx context.Context, p ProcessParams) ProcessResult
	ConfirmPayment(ctx context.Context, r *http.Request) (*ConfirmResult, error)
	Charge(ctx context.Context, p ChargeParams) ChargeResult
	Refund(ctx context.Context, p RefundParams) RefundResult
}

// RenewalCollector is implemented by adapters whose gateway bills renewals
// on its own schedule and reports each one by webhook. The engine never calls
// Charge to renew a subscription the gateway tracks; it waits for the
// renewal's confirmation instead.
type RenewalCollector interface {
	CollectsRenewals() bool
}

// Status is the outcome of initiating or confirming a payment.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// ChargeStatus is the outcome of a direct charge.
type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "success"
	ChargeFailed    ChargeStatus = "failed"
)

// RefundStatus is the outcome of a refund.
type RefundStatus string

const (
	RefundSucceeded RefundStatus = "refunded"
	RefundFailed    RefundStatus = "failed"
)

// ProcessParams starts a subscription payment, usually a hosted checkout.
type ProcessParams struct {
	CustomerID         string // internal customer id
	ExternalID         string // host application's customer key
	Email              string
	ProviderCustomerID string
	SubscriptionID     string
	PlanCode           string
	ProviderPriceID    string
	Interval           string
	Amount             int64 // minor units
	Currency           string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]any
}

type ProcessResult struct {
	Status                 Status
	RedirectURL            string
	SessionID              string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderPaymentID      string
	Err                    error
}

// ConfirmResult is the normalized outcome of a gateway webhook event.
type ConfirmResult struct {
	SubscriptionID         string
	Status                 Status
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderPaymentID      string
	Amount                 *int64
	Currency               string
}

// ChargeParams charges a stored payment method off-session.
// Gateways that support it should deduplicate on IdempotencyKey.
type ChargeParams struct {
	CustomerID             string
	ProviderCustomerID     string
	SubscriptionID         string
	ProviderSubscriptionID string
	Amount                 int64
	Currency               string
	Description            string
	IdempotencyKey         string
	Metadata               map[string]any
}

type ChargeResult struct {
	Status            ChargeStatus
	ProviderPaymentID string
	Err               error
}

// RefundParams returns Amount of a previously captured payment.
type RefundParams struct {
	PaymentID         string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Reason            string
	Full              bool // Amount is the whole captured payment
}

type RefundResult struct {
	Status           RefundStatus
	ProviderRefundID string
	Err              error
}
