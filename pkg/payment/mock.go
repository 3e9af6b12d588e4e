package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockOption configures a Mock adapter.
type MockOption func(*Mock)

// WithCheckout makes ProcessPayment return a pending result with a redirect
// to baseURL, as a hosted checkout would. Activation then arrives by webhook.
func WithCheckout(baseURL string) MockOption {
	return func(m *Mock) {
		m.checkoutURL = baseURL
	}
}

// WithWebhookSecret enables signature checks in ConfirmPayment.
func WithWebhookSecret(secret string) MockOption {
	return func(m *Mock) {
		m.secret = secret
	}
}

// WithWebhookMaxAge bounds the accepted age of signed webhooks.
func WithWebhookMaxAge(d time.Duration) MockOption {
	return func(m *Mock) {
		m.maxAge = d
	}
}

// WithGatewayRenewals makes the mock behave like a gateway that bills
// renewals itself: CollectsRenewals reports true and renewals arrive as
// webhooks built with NewWebhookRequest.
func WithGatewayRenewals() MockOption {
	return func(m *Mock) {
		m.collects = true
	}
}

// Mock is the reference Adapter. Every operation succeeds unless a failure
// is switched on with FailProcess, FailCharges or FailRefunds. Calls are
// recorded for inspection.
type Mock struct {
	mu          sync.Mutex
	checkoutURL string
	secret      string
	maxAge      time.Duration
	collects    bool

	failProcess bool
	failCharge  bool
	failRefund  bool

	processed []ProcessParams
	charges   []ChargeParams
	refunds   []RefundParams
	byKey     map[string]ChargeResult
}

var (
	_ Adapter          = (*Mock)(nil)
	_ RenewalCollector = (*Mock)(nil)
)

// NewMock returns an always-succeeding adapter.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		maxAge: 5 * time.Minute,
		byKey:  make(map[string]ChargeResult),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mock) FailProcess(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failProcess = v
}

func (m *Mock) FailCharges(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCharge = v
}

func (m *Mock) FailRefunds(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRefund = v
}

func (m *Mock) ProcessPayment(ctx context.Context, p ProcessParams) ProcessResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, p)

	if m.failProcess {
		return ProcessResult{Status: StatusFailed, Err: ErrDeclined}
	}
	if p.Amount <= 0 {
		return ProcessResult{Status: StatusFailed, Err: ErrInvalidAmount}
	}

	customerID := p.ProviderCustomerID
	if customerID == "" {
		customerID = "cus_" + uuid.NewString()
	}

	if m.checkoutURL != "" {
		session := "cs_" + uuid.NewString()
		redirect := m.checkoutURL + "?" + url.Values{
			"session":      {session},
			"subscription": {p.SubscriptionID},
		}.Encode()
		return ProcessResult{
			Status:             StatusPending,
			RedirectURL:        redirect,
			SessionID:          session,
			ProviderCustomerID: customerID,
		}
	}

	return ProcessResult{
		Status:                 StatusActive,
		ProviderCustomerID:     customerID,
		ProviderSubscriptionID: "sub_" + uuid.NewString(),
		ProviderPaymentID:      "pay_" + uuid.NewString(),
	}
}

func (m *Mock) Charge(ctx context.Context, p ChargeParams) ChargeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges = append(m.charges, p)

	if p.IdempotencyKey != "" {
		if res, ok := m.byKey[p.IdempotencyKey]; ok {
			return res
		}
	}

	var res ChargeResult
	switch {
	case p.Amount <= 0:
		res = ChargeResult{Status: ChargeFailed, Err: ErrInvalidAmount}
	case m.failCharge:
		res = ChargeResult{Status: ChargeFailed, Err: ErrDeclined}
	default:
		res = ChargeResult{Status: ChargeSucceeded, ProviderPaymentID: "pay_" + uuid.NewString()}
	}

	// Only successes are replayed; a declined key may be retried.
	if p.IdempotencyKey != "" && res.Status == ChargeSucceeded {
		m.byKey[p.IdempotencyKey] = res
	}
	return res
}

// CollectsRenewals reports whether WithGatewayRenewals was set.
func (m *Mock) CollectsRenewals() bool { return m.collects }

func (m *Mock) Refund(ctx context.Context, p RefundParams) RefundResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, p)

	switch {
	case p.Amount <= 0:
		return RefundResult{Status: RefundFailed, Err: ErrInvalidAmount}
	case m.failRefund:
		return RefundResult{Status: RefundFailed, Err: ErrDeclined}
	}
	return RefundResult{Status: RefundSucceeded, ProviderRefundID: "re_" + uuid.NewString()}
}

// webhookEvent is the body format accepted by Mock.ConfirmPayment.
type webhookEvent struct {
	Event                  string `json:"event"`
	SubscriptionID         string `json:"subscription_id"`
	Status                 Status `json:"status"`
	ProviderSubscriptionID string `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     string `json:"provider_customer_id,omitempty"`
	ProviderPaymentID      string `json:"provider_payment_id,omitempty"`
	Amount                 *int64 `json:"amount,omitempty"`
	Currency               string `json:"currency,omitempty"`
}

// ConfirmPayment parses a webhook produced by NewWebhookRequest. Events other
// than "payment.succeeded" and "payment.failed" are acknowledged with nil.
func (m *Mock) ConfirmPayment(ctx context.Context, r *http.Request) (*ConfirmResult, error) {
	body, err := ReadWebhookBody(r)
	if err != nil {
		return nil, err
	}

	if m.secret != "" {
		ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
		}
		if err := VerifySignature(m.secret, body, r.Header.Get(HeaderSignature), ts, m.maxAge, time.Now()); err != nil {
			return nil, err
		}
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	switch evt.Event {
	case "payment.succeeded":
		evt.Status = StatusActive
	case "payment.failed":
		evt.Status = StatusFailed
	default:
		return nil, nil
	}
	if evt.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrInvalidPayload)
	}

	return &ConfirmResult{
		SubscriptionID:         evt.SubscriptionID,
		Status:                 evt.Status,
		ProviderSubscriptionID: evt.ProviderSubscriptionID,
		ProviderCustomerID:     evt.ProviderCustomerID,
		ProviderPaymentID:      evt.ProviderPaymentID,
		Amount:                 evt.Amount,
		Currency:               evt.Currency,
	}, nil
}

// NewWebhookRequest builds a signed webhook request that ConfirmPayment
// turns back into res. A Status other than active or failed yields an
// event ConfirmPayment ignores.
func (m *Mock) NewWebhookRequest(ctx context.Context, target string, res ConfirmResult) (*http.Request, error) {
	evt := webhookEvent{
		Event:                  "payment.other",
		SubscriptionID:         res.SubscriptionID,
		Status:                 res.Status,
		ProviderSubscriptionID: res.ProviderSubscriptionID,
		ProviderCustomerID:     res.ProviderCustomerID,
		ProviderPaymentID:      res.ProviderPaymentID,
		Amount:                 res.Amount,
		Currency:               res.Currency,
	}
	switch res.Status {
	case StatusActive:
		evt.Event = "payment.succeeded"
	case StatusFailed:
		evt.Event = "payment.failed"
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.secret != "" {
		ts := time.Now().Unix()
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSignature, Sign(m.secret, ts, body))
	}
	return req, nil
}

// Processed returns a copy of every ProcessPayment call.
func (m *Mock) Processed() []ProcessParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ProcessParams(nil), m.processed...)
}

// Charges returns a copy of every Charge call.
func (m *Mock) Charges() []ChargeParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChargeParams(nil), m.charges...)
}

// Refunds returns a copy of every Refund call.
func (m *Mock) Refunds() []RefundParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RefundParams(nil), m.refunds...)
}
