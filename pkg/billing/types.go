package billing

import (
	"fmt"
	"time"
)

// Interval is a billing period length.
type Interval string

const (
	IntervalDaily     Interval = "daily"
	IntervalWeekly    Interval = "weekly"
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalYearly    Interval = "yearly"
)

// Valid reports whether i is a known interval.
func (i Interval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalQuarterly, IntervalYearly:
		return true
	}
	return false
}

// Add returns t moved forward by one interval using calendar arithmetic.
// Unknown intervals panic; they are rejected when the catalog is built.
func (i Interval) Add(t time.Time) time.Time {
	switch i {
	case IntervalDaily:
		return t.AddDate(0, 0, 1)
	case IntervalWeekly:
		return t.AddDate(0, 0, 7)
	case IntervalMonthly:
		return t.AddDate(0, 1, 0)
	case IntervalQuarterly:
		return t.AddDate(0, 3, 0)
	case IntervalYearly:
		return t.AddDate(1, 0, 0)
	}
	panic(fmt.Sprintf("billing: unknown interval %q", string(i)))
}

// ParseInterval accepts the canonical names plus "month", "year", "annual"
// and "annually".
func ParseInterval(s string) (Interval, error) {
	switch s {
	case "day":
		return IntervalDaily, nil
	case "week":
		return IntervalWeekly, nil
	case "month":
		return IntervalMonthly, nil
	case "quarter":
		return IntervalQuarterly, nil
	case "year", "annual", "annually":
		return IntervalYearly, nil
	}
	if i := Interval(s); i.Valid() {
		return i, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
}

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusPending means checkout was initiated and the gateway has not
	// confirmed payment yet. Pending subscriptions grant nothing.
	StatusPending  Status = "pending"
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Entitled reports whether the status grants plan features.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Live reports whether the subscription counts as the customer's current one.
func (s Status) Live() bool {
	return s == StatusTrialing || s == StatusActive || s == StatusPastDue
}

var liveStatuses = []string{string(StatusTrialing), string(StatusActive), string(StatusPastDue)}

// CancelMode selects when a cancellation takes effect.
type CancelMode string

const (
	CancelImmediately CancelMode = "immediate"
	CancelAtPeriodEnd CancelMode = "period_end"
)

type PaymentType string

const (
	PaymentSubscription PaymentType = "subscription"
	PaymentRenewal      PaymentType = "renewal"
	PaymentUpgrade      PaymentType = "upgrade"
	PaymentRefund       PaymentType = "refund"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Customer is the billing identity of a host-application user or account.
type Customer struct {
	ID                 string
	ExternalID         string
	Email              string
	Name               string
	ProviderCustomerID string
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription ties a customer to a plan price for consecutive periods.
type Subscription struct {
	ID                        string
	CustomerID                string
	PlanCode                  string
	Interval                  Interval
	Status                    Status
	ProviderSubscriptionID    string
	ProviderCheckoutSessionID string
	CurrentPeriodStart        time.Time
	CurrentPeriodEnd          time.Time
	CanceledAt                *time.Time
	CancelAt                  *time.Time
	TrialStart                *time.Time
	TrialEnd                  *time.Time
	ScheduledPlanCode         string
	ScheduledInterval         Interval
	FailedAttempts            int
	PastDueSince              *time.Time
	NextRetryAt               *time.Time
	Metadata                  map[string]any
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// HasScheduledChange reports whether a plan change waits for the next renewal.
func (s Subscription) HasScheduledChange() bool {
	return s.ScheduledPlanCode != ""
}

// Payment is a ledger row. Rows are append-only; a succeeded row only ever
// has RefundedAmount increased.
type Payment struct {
	ID                string
	CustomerID        string
	SubscriptionID    string
	Type              PaymentType
	Status            PaymentStatus
	Amount            int64
	Currency          string
	ProviderPaymentID string
	RefundedAmount    int64
	RefundOf          string
	Reason            string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Refundable returns the amount still available for refunds.
func (p Payment) Refundable() int64 {
	if p.Type == PaymentRefund || p.Status != PaymentSucceeded {
		return 0
	}
	return p.Amount - p.RefundedAmount
}
