package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

const reasonCheckoutSuperseded = "checkout superseded"

// CreateSubscriptionParams starts a subscription for a customer identified
// by external id. An empty Interval selects the plan's first price.
type CreateSubscriptionParams struct {
	CustomerID string
	PlanCode   string
	Interval   Interval
	SuccessURL string
	CancelURL  string
	Metadata   map[string]any
}

// CreateSubscriptionResult carries the stored subscription and, for paid
// plans, the ledger row and checkout redirect.
type CreateSubscriptionResult struct {
	Subscription *Subscription
	Payment      *Payment
	RedirectURL  string
}

// CreateSubscription subscribes a customer to a plan price.
//
// Free prices activate at once and trial prices start trialing without any
// gateway call. Paid prices go through PaymentAdapter.ProcessPayment: a
// pending result leaves the subscription pending until the webhook confirms
// it, an active result activates it, and a failed result records a failed
// payment and returns ErrPaymentFailed. A pending subscription left by an
// abandoned checkout is reused.
func (s *Service) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreateSubscriptionResult, error) {
	plan, err := s.catalog.Plan(params.PlanCode)
	if err != nil {
		return nil, err
	}
	interval := params.Interval
	if interval == "" {
		interval = plan.Prices[0].Interval
	}
	price, err := s.catalog.Price(plan.Code, interval)
	if err != nil {
		return nil, err
	}
	cust, err := findCustomerByExternalID(ctx, s.store, params.CustomerID)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx, cust.ID)

	var (
		result    CreateSubscriptionResult
		declined  error
		fromState Status
	)
	err = s.store.Transaction(ctx, func(tx storage.Adapter) error {
		sub, err := currentSubscription(ctx, tx, cust.ID)
		exists := err == nil
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			sub = Subscription{ID: uuid.NewString(), CustomerID: cust.ID, CreatedAt: now}
		case err != nil:
			return err
		case sub.Status != StatusPending:
			return fmt.Errorf("%w: %s is %s", ErrSubscriptionExists, sub.ID, sub.Status)
		}
		fromState = sub.Status

		if exists {
			// The earlier checkout is abandoned; its row must not stay pending.
			_, err := tx.UpdateMany(ctx, ModelPayment, []storage.Where{
				storage.Eq("subscription_id", sub.ID),
				storage.Eq("status", string(PaymentPending)),
			}, storage.Record{
				"status":     string(PaymentFailed),
				"reason":     reasonCheckoutSuperseded,
				"updated_at": now,
			})
			if err != nil {
				return fmt.Errorf("failed to supersede pending payment: %w", err)
			}
		}

		sub.PlanCode = plan.Code
		sub.Interval = interval
		sub.Metadata = params.Metadata
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = interval.Add(now)
		sub.TrialStart, sub.TrialEnd = nil, nil

		var pay *Payment
		switch {
		case price.Free():
			sub.Status = StatusActive
		case price.TrialDays > 0:
			trialEnd := now.AddDate(0, 0, price.TrialDays)
			sub.Status = StatusTrialing
			sub.TrialStart, sub.TrialEnd = timePtr(now), timePtr(trialEnd)
			sub.CurrentPeriodEnd = trialEnd
		default:
			res := s.payments.ProcessPayment(ctx, payment.ProcessParams{
				CustomerID:         cust.ID,
				ExternalID:         cust.ExternalID,
				Email:              cust.Email,
				ProviderCustomerID: cust.ProviderCustomerID,
				SubscriptionID:     sub.ID,
				PlanCode:           plan.Code,
				ProviderPriceID:    price.ProviderPriceID,
				Interval:           string(interval),
				Amount:             price.Amount,
				Currency:           price.Currency,
				SuccessURL:         params.SuccessURL,
				CancelURL:          params.CancelURL,
				Metadata:           params.Metadata,
			})

			pay = &Payment{
				CustomerID:        cust.ID,
				SubscriptionID:    sub.ID,
				Type:              PaymentSubscription,
				Amount:            price.Amount,
				Currency:          price.Currency,
				ProviderPaymentID: res.ProviderPaymentID,
			}
			switch res.Status {
			case payment.StatusActive:
				pay.Status = PaymentSucceeded
				sub.Status = StatusActive
				sub.ProviderSubscriptionID = res.ProviderSubscriptionID
			case payment.StatusPending:
				pay.Status = PaymentPending
				sub.Status = StatusPending
				sub.ProviderCheckoutSessionID = res.SessionID
				result.RedirectURL = res.RedirectURL
			default:
				// Only the ledger row survives a declined checkout.
				pay.Status = PaymentFailed
				if !exists {
					pay.SubscriptionID = ""
				}
				declined = errors.Join(ErrPaymentFailed, res.Err)
				if err := insertPayment(ctx, tx, pay, now); err != nil {
					return err
				}
				result.Payment = pay
				return nil
			}

			if res.ProviderCustomerID != "" && res.ProviderCustomerID != cust.ProviderCustomerID {
				_, err := tx.Update(ctx, ModelCustomer, byID(cust.ID), storage.Record{
					"provider_customer_id": res.ProviderCustomerID,
					"updated_at":           now,
				})
				if err != nil {
					return fmt.Errorf("failed to update customer: %w", err)
				}
			}
		}

		sub.UpdatedAt = now
		if exists {
			if err := saveSubscription(ctx, tx, &sub, now); err != nil {
				return err
			}
		} else {
			rec, err := tx.Create(ctx, ModelSubscription, sub.record())
			if err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
			sub = subscriptionFromRecord(rec)
		}

		if pay != nil {
			if err := insertPayment(ctx, tx, pay, now); err != nil {
				return err
			}
		}
		result.Subscription = &sub
		result.Payment = pay
		return nil
	})
	if err != nil {
		return nil, err
	}
	if declined != nil {
		s.log.WarnContext(ctx, "checkout declined",
			logger.CustomerID(cust.ID),
			logger.PlanCode(plan.Code),
			logger.Error(declined),
		)
		return &result, declined
	}

	s.log.InfoContext(ctx, "subscription created",
		logger.CustomerID(cust.ID),
		logger.SubscriptionID(result.Subscription.ID),
		logger.PlanCode(plan.Code),
		logger.Transition(string(fromState), string(result.Subscription.Status)),
	)
	return &result, nil
}

// GetSubscription returns the customer's current subscription, or the most
// recent canceled one when nothing is current.
func (s *Service) GetSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	cust, err := findCustomerByExternalID(ctx, s.store, customerID)
	if err != nil {
		return nil, err
	}

	sub, err := currentSubscription(ctx, s.store, cust.ID)
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	recs, err := s.store.FindMany(ctx, ModelSubscription, storage.Query{
		Where:  []storage.Where{storage.Eq("customer_id", cust.ID)},
		SortBy: &storage.SortBy{Field: "created_at", Direction: storage.SortDesc},
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(recs) == 0 {
		return nil, ErrSubscriptionNotFound
	}
	sub = subscriptionFromRecord(recs[0])
	return &sub, nil
}

// ChangeSubscriptionParams moves a customer to another plan or interval.
// An empty Interval keeps the current one. Prorate enables the immediate
// charge of a positive net proration.
type ChangeSubscriptionParams struct {
	CustomerID string
	PlanCode   string
	Interval   Interval
	Prorate    bool
}

// ChangeResult reports which policy fired. Payment is the upgrade charge,
// if one was attempted.
type ChangeResult struct {
	Subscription *Subscription
	Policy       ChangePolicy
	Proration    Proration
	Payment      *Payment
}

// ChangeSubscription switches or schedules a plan change according to the
// service's ChangeStrategy.
//
// Immediate changes within the same interval keep the current period and
// charge the prorated difference. Changing the interval immediately starts a
// fresh period and charges the new price less the unused credit. A declined
// upgrade charge is recorded and leaves the subscription untouched. Trialing
// subscriptions switch at once without charge.
func (s *Service) ChangeSubscription(ctx context.Context, params ChangeSubscriptionParams) (*ChangeResult, error) {
	if _, err := s.catalog.Plan(params.PlanCode); err != nil {
		return nil, err
	}
	cust, err := findCustomerByExternalID(ctx, s.store, params.CustomerID)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx, cust.ID)

	var (
		result   ChangeResult
		declined error
	)
	err = s.store.Transaction(ctx, func(tx storage.Adapter) error {
		sub, err := currentSubscription(ctx, tx, cust.ID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}
		if !sub.Status.Entitled() {
			return fmt.Errorf("%w: %s", ErrInvalidSubscriptionState, sub.Status)
		}

		interval := params.Interval
		if interval == "" {
			interval = sub.Interval
		}
		next, err := s.catalog.Price(params.PlanCode, interval)
		if err != nil {
			return err
		}
		current, err := s.catalog.Price(sub.PlanCode, sub.Interval)
		if err != nil {
			return err
		}

		result.Policy = PolicyImmediate
		if params.PlanCode == sub.PlanCode && interval == sub.Interval {
			if !sub.HasScheduledChange() {
				return ErrAlreadyOnPlan
			}
			// Switching back to the current plan drops the pending change.
			sub.ScheduledPlanCode, sub.ScheduledInterval = "", ""
			result.Subscription = &sub
			return saveSubscription(ctx, tx, &sub, now)
		}

		if sub.Status == StatusTrialing {
			sub.PlanCode, sub.Interval = params.PlanCode, interval
			sub.ScheduledPlanCode, sub.ScheduledInterval = "", ""
			result.Subscription = &sub
			return saveSubscription(ctx, tx, &sub, now)
		}

		if current.Currency != next.Currency {
			return fmt.Errorf("%w: %s -> %s", ErrCurrencyMismatch, current.Currency, next.Currency)
		}

		result.Policy = s.strategy(current, next)
		if result.Policy == PolicyDeferred {
			sub.ScheduledPlanCode, sub.ScheduledInterval = params.PlanCode, interval
			result.Subscription = &sub
			return saveSubscription(ctx, tx, &sub, now)
		}

		freshPeriod := interval != sub.Interval && params.Prorate
		if freshPeriod {
			pr := Prorate(current.Amount, 0, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
			pr.Charge = next.Amount
			pr.Net = pr.Charge - pr.Credit
			result.Proration = pr
		} else {
			result.Proration = Prorate(current.Amount, next.Amount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, now)
		}

		if params.Prorate && result.Proration.Net > 0 {
			res := s.payments.Charge(ctx, payment.ChargeParams{
				CustomerID:             cust.ID,
				ProviderCustomerID:     cust.ProviderCustomerID,
				SubscriptionID:         sub.ID,
				ProviderSubscriptionID: sub.ProviderSubscriptionID,
				Amount:                 result.Proration.Net,
				Currency:               next.Currency,
				Description:            fmt.Sprintf("upgrade %s -> %s", sub.PlanCode, params.PlanCode),
				IdempotencyKey:         fmt.Sprintf("%s:upgrade:%s:%d", sub.ID, params.PlanCode, now.UnixNano()),
			})
			pay := &Payment{
				CustomerID:        cust.ID,
				SubscriptionID:    sub.ID,
				Type:              PaymentUpgrade,
				Status:            PaymentSucceeded,
				Amount:            result.Proration.Net,
				Currency:          next.Currency,
				ProviderPaymentID: res.ProviderPaymentID,
			}
			if res.Status != payment.ChargeSucceeded {
				pay.Status = PaymentFailed
				declined = errors.Join(ErrPaymentFailed, res.Err)
			}
			if err := insertPayment(ctx, tx, pay, now); err != nil {
				return err
			}
			result.Payment = pay
			if declined != nil {
				result.Subscription = &sub
				return nil
			}
		}

		from := sub.PlanCode
		sub.PlanCode, sub.Interval = params.PlanCode, interval
		sub.ScheduledPlanCode, sub.ScheduledInterval = "", ""
		if freshPeriod {
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = interval.Add(now)
		}
		if err := saveSubscription(ctx, tx, &sub, now); err != nil {
			return err
		}
		result.Subscription = &sub
		s.log.InfoContext(ctx, "plan changed",
			logger.SubscriptionID(sub.ID),
			logger.PlanCode(sub.PlanCode),
			logger.Transition(from, sub.PlanCode),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if declined != nil {
		return &result, declined
	}
	return &result, nil
}

// CancelSubscription cancels the customer's current subscription. Immediate
// cancellation ends it now; period-end cancellation sets CancelAt and leaves
// the status alone until the renewal processor reaches that instant. Pending
// subscriptions are always canceled immediately.
func (s *Service) CancelSubscription(ctx context.Context, customerID string, mode CancelMode) (*Subscription, error) {
	if mode != CancelImmediately && mode != CancelAtPeriodEnd {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCancelMode, mode)
	}
	cust, err := findCustomerByExternalID(ctx, s.store, customerID)
	if err != nil {
		return nil, err
	}
	now := s.now(ctx, cust.ID)

	var sub Subscription
	err = s.store.Transaction(ctx, func(tx storage.Adapter) error {
		sub, err = currentSubscription(ctx, tx, cust.ID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return ErrNoActiveSubscription
		}
		if err != nil {
			return err
		}

		if mode == CancelAtPeriodEnd && sub.Status != StatusPending {
			sub.CancelAt = timePtr(sub.CurrentPeriodEnd)
			return saveSubscription(ctx, tx, &sub, now)
		}
		cancelNow(&sub, now)
		return saveSubscription(ctx, tx, &sub, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancel requested",
		logger.SubscriptionID(sub.ID),
		logger.Event(string(mode)),
	)
	return &sub, nil
}

func cancelNow(sub *Subscription, at time.Time) {
	sub.Status = StatusCanceled
	sub.CanceledAt = timePtr(at)
	sub.CancelAt = nil
	sub.ScheduledPlanCode, sub.ScheduledInterval = "", ""
	sub.NextRetryAt = nil
}
