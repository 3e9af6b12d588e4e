package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/lock"
	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// RenewalReport summarizes one sweep.
type RenewalReport struct {
	Now        time.Time `json:"now"`
	Due        int       `json:"due"`       // subscriptions picked up
	Renewed    int       `json:"renewed"`   // periods advanced, free ones included
	Converted  int       `json:"converted"` // trials that ended in a paid or free period
	Changed    int       `json:"changed"`   // scheduled plan changes applied
	Canceled   int       `json:"canceled"`
	PastDue    int       `json:"past_due"` // declined renewal charges
	Downgraded int       `json:"downgraded"`
	Awaiting   int       `json:"awaiting"` // periods the gateway bills, left for its webhook
	Failed     int       `json:"failed"`   // subscriptions skipped because of an error
	Errors     []error   `json:"-"`
}

// ProcessRenewals bills every subscription that is due at now: active and
// trialing subscriptions whose period ended, past_due subscriptions whose
// retry time arrived and subscriptions whose deferred cancellation is due.
// Zero now means the clock's current time. Each subscription is handled in
// its own transaction; a failure is logged and counted without stopping the
// sweep. Running it again with the same now changes nothing.
func (s *Service) ProcessRenewals(ctx context.Context, now time.Time) (*RenewalReport, error) {
	if now.IsZero() {
		now = s.now(ctx, "")
	}
	now = now.UTC()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, sweepLockKey, s.lockTTL)
		if errors.Is(err, lock.ErrLockHeld) {
			return nil, ErrSweepInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.WarnContext(ctx, "failed to release sweep lock", logger.Error(err))
			}
		}()
	}

	return s.sweep(ctx, now, nil)
}

// ProcessCustomerRenewals runs the sweep for one customer, identified by
// internal id. Zero now means the customer's clock.
func (s *Service) ProcessCustomerRenewals(ctx context.Context, customerID string, now time.Time) (*RenewalReport, error) {
	if now.IsZero() {
		now = s.now(ctx, customerID)
	}
	return s.sweep(ctx, now.UTC(), []storage.Where{storage.Eq("customer_id", customerID)})
}

func (s *Service) sweep(ctx context.Context, now time.Time, scope []storage.Where) (*RenewalReport, error) {
	ids, err := s.dueSubscriptions(ctx, now, scope)
	if err != nil {
		return nil, err
	}

	report := &RenewalReport{Now: now, Due: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.renewOne(ctx, id, now, report); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("subscription %s: %w", id, err))
			s.log.ErrorContext(ctx, "renewal failed", logger.SubscriptionID(id), logger.Error(err))
		}
	}

	s.log.InfoContext(ctx, "renewal sweep finished",
		"due", report.Due,
		"renewed", report.Renewed,
		"past_due", report.PastDue,
		"canceled", report.Canceled,
		"awaiting", report.Awaiting,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Service) dueSubscriptions(ctx context.Context, now time.Time, scope []storage.Where) ([]string, error) {
	queries := [][]storage.Where{
		{
			storage.In("status", []string{string(StatusActive), string(StatusTrialing)}),
			storage.Lte("current_period_end", now),
		},
		{
			storage.Eq("status", string(StatusPastDue)),
			storage.Lte("next_retry_at", now),
		},
		{
			storage.In("status", liveStatuses),
			storage.Lte("cancel_at", now),
		},
	}

	seen := make(map[string]bool)
	var due []Subscription
	for _, where := range queries {
		recs, err := s.store.FindMany(ctx, ModelSubscription, storage.Query{
			Where:  append(slices.Clone(scope), where...),
			SortBy: &storage.SortBy{Field: "current_period_end", Direction: storage.SortAsc},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
		}
		for _, r := range recs {
			if !seen[r.ID()] {
				seen[r.ID()] = true
				due = append(due, subscriptionFromRecord(r))
			}
		}
	}

	slices.SortStableFunc(due, func(a, b Subscription) int {
		return a.CurrentPeriodEnd.Compare(b.CurrentPeriodEnd)
	})
	ids := make([]string, len(due))
	for i, sub := range due {
		ids[i] = sub.ID
	}
	return ids, nil
}

// renewOne re-reads the subscription inside a transaction, so a concurrent
// sweep or webhook that got there first turns this into a no-op.
func (s *Service) renewOne(ctx context.Context, id string, now time.Time, report *RenewalReport) error {
	var tally RenewalReport
	err := s.store.Transaction(ctx, func(tx storage.Adapter) error {
		tally = RenewalReport{}
		rec, err := tx.FindOne(ctx, ModelSubscription, byID(id))
		if err != nil {
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		sub := subscriptionFromRecord(rec)
		if !renewalDue(sub, now) {
			return nil
		}

		cust, err := tx.FindOne(ctx, ModelCustomer, byID(sub.CustomerID))
		if err != nil {
			return fmt.Errorf("failed to load customer: %w", err)
		}
		providerCustomerID := cust.String("provider_customer_id")

		// One iteration per missed period, until the period covers now.
		for {
			if sub.CancelAt != nil && !now.Before(*sub.CancelAt) {
				at := *sub.CancelAt
				cancelNow(&sub, at)
				tally.Canceled++
				s.log.InfoContext(ctx, "subscription canceled at period end", logger.SubscriptionID(sub.ID))
				break
			}

			if sub.HasScheduledChange() {
				sub.PlanCode, sub.Interval = sub.ScheduledPlanCode, sub.ScheduledInterval
				sub.ScheduledPlanCode, sub.ScheduledInterval = "", ""
				tally.Changed++
			}

			price, err := s.catalog.Price(sub.PlanCode, sub.Interval)
			if err != nil {
				return err
			}

			if !price.Free() && s.gatewayRenews(sub) {
				// The gateway bills this period; Reconcile advances it.
				tally.Awaiting++
				break
			}

			wasTrial := sub.Status == StatusTrialing
			if !price.Free() {
				periodEnd := sub.CurrentPeriodEnd
				res := s.payments.Charge(ctx, payment.ChargeParams{
					CustomerID:             sub.CustomerID,
					ProviderCustomerID:     providerCustomerID,
					SubscriptionID:         sub.ID,
					ProviderSubscriptionID: sub.ProviderSubscriptionID,
					Amount:                 price.Amount,
					Currency:               price.Currency,
					Description:            fmt.Sprintf("renewal %s/%s", sub.PlanCode, sub.Interval),
					IdempotencyKey:         sub.ID + ":" + periodEnd.Format(time.RFC3339Nano),
				})
				pay := &Payment{
					CustomerID:        sub.CustomerID,
					SubscriptionID:    sub.ID,
					Type:              PaymentRenewal,
					Status:            PaymentSucceeded,
					Amount:            price.Amount,
					Currency:          price.Currency,
					ProviderPaymentID: res.ProviderPaymentID,
					Metadata:          map[string]any{"period_end": periodEnd.Format(time.RFC3339Nano)},
				}
				if res.Status != payment.ChargeSucceeded {
					pay.Status = PaymentFailed
				}
				if err := insertPayment(ctx, tx, pay, now); err != nil {
					return err
				}
				if pay.Status == PaymentFailed {
					tally.PastDue++
					s.handleFailure(ctx, &sub, price, res.Err, now, &tally)
					break
				}
			}

			prevEnd := sub.CurrentPeriodEnd
			advancePeriod(&sub)
			if !sub.CurrentPeriodEnd.After(prevEnd) {
				return fmt.Errorf("%w: %q does not advance the period", ErrInvalidInterval, sub.Interval)
			}
			tally.Renewed++
			if wasTrial {
				tally.Converted++
			}
			if sub.CurrentPeriodEnd.After(now) {
				break
			}
		}

		return saveSubscription(ctx, tx, &sub, now)
	})
	if err != nil {
		return err
	}

	report.Renewed += tally.Renewed
	report.Converted += tally.Converted
	report.Changed += tally.Changed
	report.Canceled += tally.Canceled
	report.PastDue += tally.PastDue
	report.Downgraded += tally.Downgraded
	report.Awaiting += tally.Awaiting
	return nil
}

func renewalDue(sub Subscription, now time.Time) bool {
	if !sub.Status.Live() {
		return false
	}
	if sub.CancelAt != nil && !now.Before(*sub.CancelAt) {
		return true
	}
	if sub.Status == StatusPastDue {
		return sub.NextRetryAt != nil && !now.Before(*sub.NextRetryAt)
	}
	return !sub.CurrentPeriodEnd.After(now)
}

// advancePeriod starts the next period at the old boundary and clears any
// failure bookkeeping.
func advancePeriod(sub *Subscription) {
	sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	sub.CurrentPeriodEnd = sub.Interval.Add(sub.CurrentPeriodStart)
	sub.Status = StatusActive
	sub.FailedAttempts = 0
	sub.PastDueSince = nil
	sub.NextRetryAt = nil
}

func (s *Service) handleFailure(ctx context.Context, sub *Subscription, price Price, cause error, now time.Time, tally *RenewalReport) {
	from := sub.Status
	sub.Status = StatusPastDue
	sub.FailedAttempts++
	if sub.PastDueSince == nil {
		sub.PastDueSince = timePtr(now)
	}
	sub.NextRetryAt = nil

	decision := s.onFailure.Decide(ctx, FailureInfo{
		Subscription: *sub,
		Price:        price,
		Err:          cause,
		Now:          now,
	})

	switch decision.Action {
	case ActionRetry:
		if decision.RetryAt.After(now) {
			sub.NextRetryAt = timePtr(decision.RetryAt)
		}
	case ActionCancel:
		cancelNow(sub, now)
		tally.Canceled++
	case ActionDowngrade:
		target, err := s.catalog.Price(decision.Plan, decision.Interval)
		if err != nil || !target.Free() {
			s.log.ErrorContext(ctx, "downgrade target is not a free price",
				logger.SubscriptionID(sub.ID),
				logger.PlanCode(decision.Plan),
				logger.Error(err),
			)
			break
		}
		sub.PlanCode, sub.Interval = decision.Plan, decision.Interval
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = decision.Interval.Add(now)
		sub.Status = StatusActive
		sub.FailedAttempts = 0
		sub.PastDueSince = nil
		tally.Downgraded++
	}

	s.log.WarnContext(ctx, "renewal charge declined",
		logger.SubscriptionID(sub.ID),
		logger.Transition(string(from), string(sub.Status)),
		logger.Event(string(decision.Action)),
		logger.Error(cause),
	)
}
