package billing

import (
	"time"

	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// Storage model names owned by the engine.
const (
	ModelCustomer     = "customer"
	ModelSubscription = "subscription"
	ModelPayment      = "payment"
)

// CoreSchema returns the models the engine stores.
func CoreSchema() storage.Schema {
	str := func(name string) storage.Field { return storage.Field{Name: name, Type: storage.FieldString} }
	num := func(name string) storage.Field { return storage.Field{Name: name, Type: storage.FieldNumber} }
	ts := func(name string) storage.Field { return storage.Field{Name: name, Type: storage.FieldTime} }
	obj := func(name string) storage.Field { return storage.Field{Name: name, Type: storage.FieldJSON} }

	return storage.Schema{
		ModelCustomer: {
			Name: ModelCustomer,
			Fields: []storage.Field{
				str("id"),
				{Name: "external_id", Type: storage.FieldString, Unique: true},
				str("email"), str("name"), str("provider_customer_id"),
				obj("metadata"), ts("created_at"), ts("updated_at"),
			},
		},
		ModelSubscription: {
			Name: ModelSubscription,
			Fields: []storage.Field{
				str("id"), str("customer_id"), str("plan_code"), str("interval"), str("status"),
				str("provider_subscription_id"), str("provider_checkout_session_id"),
				ts("current_period_start"), ts("current_period_end"),
				ts("canceled_at"), ts("cancel_at"), ts("trial_start"), ts("trial_end"),
				str("scheduled_plan_code"), str("scheduled_interval"),
				num("failed_attempts"), ts("past_due_since"), ts("next_retry_at"),
				obj("metadata"), ts("created_at"), ts("updated_at"),
			},
		},
		ModelPayment: {
			Name: ModelPayment,
			Fields: []storage.Field{
				str("id"), str("customer_id"), str("subscription_id"), str("type"), str("status"),
				num("amount"), str("currency"), str("provider_payment_id"), num("refunded_amount"),
				str("refund_of"), str("reason"), obj("metadata"), ts("created_at"), ts("updated_at"),
			},
		},
	}
}

func byID(id string) []storage.Where {
	return []storage.Where{storage.Eq("id", id)}
}

// timeValue stores unset optional times as null.
func timeValue(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func (c Customer) record() storage.Record {
	return storage.Record{
		"id":                   c.ID,
		"external_id":          c.ExternalID,
		"email":                c.Email,
		"name":                 c.Name,
		"provider_customer_id": c.ProviderCustomerID,
		"metadata":             c.Metadata,
		"created_at":           c.CreatedAt.UTC(),
		"updated_at":           c.UpdatedAt.UTC(),
	}
}

func customerFromRecord(r storage.Record) Customer {
	return Customer{
		ID:                 r.ID(),
		ExternalID:         r.String("external_id"),
		Email:              r.String("email"),
		Name:               r.String("name"),
		ProviderCustomerID: r.String("provider_customer_id"),
		Metadata:           r.Map("metadata"),
		CreatedAt:          r.Time("created_at"),
		UpdatedAt:          r.Time("updated_at"),
	}
}

func (s Subscription) record() storage.Record {
	return storage.Record{
		"id":                           s.ID,
		"customer_id":                  s.CustomerID,
		"plan_code":                    s.PlanCode,
		"interval":                     string(s.Interval),
		"status":                       string(s.Status),
		"provider_subscription_id":     s.ProviderSubscriptionID,
		"provider_checkout_session_id": s.ProviderCheckoutSessionID,
		"current_period_start":         s.CurrentPeriodStart.UTC(),
		"current_period_end":           s.CurrentPeriodEnd.UTC(),
		"canceled_at":                  timeValue(s.CanceledAt),
		"cancel_at":                    timeValue(s.CancelAt),
		"trial_start":                  timeValue(s.TrialStart),
		"trial_end":                    timeValue(s.TrialEnd),
		"scheduled_plan_code":          s.ScheduledPlanCode,
		"scheduled_interval":           string(s.ScheduledInterval),
		"failed_attempts":              int64(s.FailedAttempts),
		"past_due_since":               timeValue(s.PastDueSince),
		"next_retry_at":                timeValue(s.NextRetryAt),
		"metadata":                     s.Metadata,
		"created_at":                   s.CreatedAt.UTC(),
		"updated_at":                   s.UpdatedAt.UTC(),
	}
}

func subscriptionFromRecord(r storage.Record) Subscription {
	return Subscription{
		ID:                        r.ID(),
		CustomerID:                r.String("customer_id"),
		PlanCode:                  r.String("plan_code"),
		Interval:                  Interval(r.String("interval")),
		Status:                    Status(r.String("status")),
		ProviderSubscriptionID:    r.String("provider_subscription_id"),
		ProviderCheckoutSessionID: r.String("provider_checkout_session_id"),
		CurrentPeriodStart:        r.Time("current_period_start"),
		CurrentPeriodEnd:          r.Time("current_period_end"),
		CanceledAt:                r.TimePtr("canceled_at"),
		CancelAt:                  r.TimePtr("cancel_at"),
		TrialStart:                r.TimePtr("trial_start"),
		TrialEnd:                  r.TimePtr("trial_end"),
		ScheduledPlanCode:         r.String("scheduled_plan_code"),
		ScheduledInterval:         Interval(r.String("scheduled_interval")),
		FailedAttempts:            r.Int("failed_attempts"),
		PastDueSince:              r.TimePtr("past_due_since"),
		NextRetryAt:               r.TimePtr("next_retry_at"),
		Metadata:                  r.Map("metadata"),
		CreatedAt:                 r.Time("created_at"),
		UpdatedAt:                 r.Time("updated_at"),
	}
}

func (p Payment) record() storage.Record {
	return storage.Record{
		"id":                  p.ID,
		"customer_id":         p.CustomerID,
		"subscription_id":     p.SubscriptionID,
		"type":                string(p.Type),
		"status":              string(p.Status),
		"amount":              p.Amount,
		"currency":            p.Currency,
		"provider_payment_id": p.ProviderPaymentID,
		"refunded_amount":     p.RefundedAmount,
		"refund_of":           p.RefundOf,
		"reason":              p.Reason,
		"metadata":            p.Metadata,
		"created_at":          p.CreatedAt.UTC(),
		"updated_at":          p.UpdatedAt.UTC(),
	}
}

func paymentFromRecord(r storage.Record) Payment {
	return Payment{
		ID:                r.ID(),
		CustomerID:        r.String("customer_id"),
		SubscriptionID:    r.String("subscription_id"),
		Type:              PaymentType(r.String("type")),
		Status:            PaymentStatus(r.String("status")),
		Amount:            r.Int64("amount"),
		Currency:          r.String("currency"),
		ProviderPaymentID: r.String("provider_payment_id"),
		RefundedAmount:    r.Int64("refunded_amount"),
		RefundOf:          r.String("refund_of"),
		Reason:            r.String("reason"),
		Metadata:          r.Map("metadata"),
		CreatedAt:         r.Time("created_at"),
		UpdatedAt:         r.Time("updated_at"),
	}
}
