package paddle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	paddlesdk "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/billsdk/pkg/payment"
)

// Provider implements payment.Adapter for Paddle Billing.
//
// Subscriptions are started through hosted checkout transactions and
// confirmed by transaction webhooks. Paddle bills renewals itself, so the
// provider is a payment.RenewalCollector and each renewal reaches the engine
// as a transaction webhook. Refunds are refund adjustments on the original
// transaction. Off-session one-off charges have no Paddle equivalent and
// report payment.ErrUnsupported.
type Provider struct {
	client   *paddlesdk.SDK
	verifier *paddlesdk.WebhookVerifier
}

var (
	_ payment.Adapter          = (*Provider)(nil)
	_ payment.RenewalCollector = (*Provider)(nil)
)

// New creates a Paddle adapter for the configured environment.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddlesdk.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddlesdk.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddlesdk.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &Provider{
		client:   client,
		verifier: paddlesdk.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// ProcessPayment opens a checkout transaction. The engine's ids travel in
// custom_data and come back on the webhook.
func (p *Provider) ProcessPayment(ctx context.Context, params payment.ProcessParams) payment.ProcessResult {
	if params.ProviderPriceID == "" {
		return payment.ProcessResult{Status: payment.StatusFailed, Err: ErrMissingPriceID}
	}

	item := paddlesdk.NewCreateTransactionItemsTransactionItemFromCatalog(&paddlesdk.TransactionItemFromCatalog{
		PriceID:  params.ProviderPriceID,
		Quantity: 1,
	})

	req := &paddlesdk.CreateTransactionRequest{
		Items: []paddlesdk.CreateTransactionItems{*item},
		CustomData: paddlesdk.CustomData{
			"subscription_id": params.SubscriptionID,
			"customer_id":     params.CustomerID,
			"external_id":     params.ExternalID,
		},
	}
	if params.Email != "" {
		req.CustomData["email"] = params.Email
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddlesdk.TransactionCheckout{URL: paddlesdk.PtrTo(params.SuccessURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return payment.ProcessResult{
			Status: payment.StatusFailed,
			Err:    fmt.Errorf("failed to create paddle transaction: %w", err),
		}
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil {
		return payment.ProcessResult{Status: payment.StatusFailed, Err: ErrNoCheckoutURL}
	}

	return payment.ProcessResult{
		Status:      payment.StatusPending,
		RedirectURL: *txn.Checkout.URL,
		SessionID:   txn.ID,
	}
}

// ConfirmPayment verifies the Paddle-Signature header and maps transaction
// events onto a ConfirmResult.
func (p *Provider) ConfirmPayment(ctx context.Context, r *http.Request) (*payment.ConfirmResult, error) {
	body, err := payment.ReadWebhookBody(r)
	if err != nil {
		return nil, err
	}

	valid, err := p.verifier.Verify(r)
	if err != nil {
		return nil, errors.Join(payment.ErrInvalidSignature, err)
	}
	if !valid {
		return nil, payment.ErrInvalidSignature
	}

	return parseEvent(body)
}

func (p *Provider) Charge(ctx context.Context, params payment.ChargeParams) payment.ChargeResult {
	return payment.ChargeResult{Status: payment.ChargeFailed, Err: payment.ErrUnsupported}
}

// CollectsRenewals is always true: Paddle charges the saved payment method
// at each billing date.
func (p *Provider) CollectsRenewals() bool { return true }

// Refund files a full refund adjustment against the captured transaction.
// Paddle reviews refunds before paying them out; an accepted adjustment is
// reported as succeeded. Partial refunds need per-line-item amounts and are
// not supported.
func (p *Provider) Refund(ctx context.Context, params payment.RefundParams) payment.RefundResult {
	switch {
	case params.ProviderPaymentID == "":
		return payment.RefundResult{Status: payment.RefundFailed, Err: ErrMissingTransactionID}
	case !params.Full:
		return payment.RefundResult{Status: payment.RefundFailed, Err: ErrPartialRefund}
	}

	reason := params.Reason
	if reason == "" {
		reason = defaultRefundReason
	}
	adj, err := p.client.AdjustmentsClient.CreateAdjustment(ctx, &paddlesdk.CreateAdjustmentRequest{
		Action:        paddlesdk.AdjustmentActionRefund,
		TransactionID: params.ProviderPaymentID,
		Reason:        reason,
		Type:          paddlesdk.PtrTo(paddlesdk.AdjustmentTypeFull),
	})
	if err != nil {
		return payment.RefundResult{
			Status: payment.RefundFailed,
			Err:    fmt.Errorf("failed to create paddle refund: %w", err),
		}
	}
	return payment.RefundResult{Status: payment.RefundSucceeded, ProviderRefundID: adj.ID}
}

// Paddle requires a reason on every adjustment.
const defaultRefundReason = "refund requested by merchant"

type event struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Data      eventData `json:"data"`
}

type eventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	SubscriptionID string         `json:"subscription_id"`
	CustomerID     string         `json:"customer_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	Details        struct {
		Totals struct {
			GrandTotal   string `json:"grand_total"`
			CurrencyCode string `json:"currency_code"`
		} `json:"totals"`
	} `json:"details"`
}

// parseEvent maps a verified webhook body. Events without an engine
// subscription id in custom_data are not ours and are ignored.
func parseEvent(body []byte) (*payment.ConfirmResult, error) {
	var evt event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", payment.ErrInvalidPayload, err)
	}

	var status payment.Status
	switch evt.EventType {
	case "transaction.completed", "transaction.paid":
		status = payment.StatusActive
	case "transaction.payment_failed":
		status = payment.StatusFailed
	default:
		return nil, nil
	}

	subID, _ := evt.Data.CustomData["subscription_id"].(string)
	if subID == "" {
		return nil, nil
	}

	res := &payment.ConfirmResult{
		SubscriptionID:         subID,
		Status:                 status,
		ProviderSubscriptionID: evt.Data.SubscriptionID,
		ProviderCustomerID:     evt.Data.CustomerID,
		ProviderPaymentID:      evt.Data.ID,
		Currency:               evt.Data.CurrencyCode,
	}
	if res.Currency == "" {
		res.Currency = evt.Data.Details.Totals.CurrencyCode
	}
	if total := evt.Data.Details.Totals.GrandTotal; total != "" {
		if n, err := strconv.ParseInt(total, 10, 64); err == nil {
			res.Amount = &n
		}
	}
	return res, nil
}
