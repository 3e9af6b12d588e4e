package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// ReconcileOutcome tells what a confirmation event changed.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeIgnored   ReconcileOutcome = "ignored"
	// OutcomeOrphaned means the gateway result was written to the ledger but
	// the subscription no longer accepts it, e.g. a checkout captured after
	// the customer canceled. A succeeded orphan needs a refund.
	OutcomeOrphaned ReconcileOutcome = "orphaned"
)

// HandleWebhook authenticates a gateway webhook through the payment adapter
// and reconciles it. Verification failures wrap ErrWebhookVerificationFailed;
// events the adapter does not act on return OutcomeIgnored and no error.
func (s *Service) HandleWebhook(r *http.Request) (ReconcileOutcome, error) {
	ctx := r.Context()
	res, err := s.payments.ConfirmPayment(ctx, r)
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected", logger.Error(err))
		return "", errors.Join(ErrWebhookVerificationFailed, err)
	}
	if res == nil {
		return OutcomeIgnored, nil
	}

	outcome, err := s.Reconcile(ctx, *res)
	if err != nil {
		s.log.ErrorContext(ctx, "webhook reconciliation failed",
			logger.SubscriptionID(res.SubscriptionID),
			logger.PaymentID(res.ProviderPaymentID),
			logger.Error(err),
		)
		return "", errors.Join(ErrReconcileFailed, err)
	}
	return outcome, nil
}

// Reconcile applies a normalized gateway event in one transaction. Delivering
// the same event again is a no-op: an event whose provider payment id is
// already on the ledger, or that finds the subscription past the state it
// applies to, reports OutcomeDuplicate.
//
// An active event completes the pending payment (or records a succeeded one),
// activates a pending subscription with a fresh period and brings a past_due
// subscription back to active for its next period. A failed event fails the
// pending payment (or records a failed one) and moves live subscriptions to
// past_due; a pending subscription stays pending so checkout can be retried.
// When the gateway collects renewals itself, an active event with a new
// provider payment id for an active or trialing subscription is the renewal
// and advances the period.
//
// Money the subscription cannot take, a capture after cancellation or a
// second capture for an already active subscription, is still recorded and
// reported as OutcomeOrphaned.
func (s *Service) Reconcile(ctx context.Context, res payment.ConfirmResult) (ReconcileOutcome, error) {
	if res.SubscriptionID == "" {
		return "", fmt.Errorf("%w: missing subscription id", ErrSubscriptionNotFound)
	}
	if res.Status != payment.StatusActive && res.Status != payment.StatusFailed {
		return OutcomeIgnored, nil
	}

	var (
		outcome ReconcileOutcome
		from    Status
		sub     Subscription
	)
	err := s.store.Transaction(ctx, func(tx storage.Adapter) error {
		rec, err := tx.FindOne(ctx, ModelSubscription, byID(res.SubscriptionID))
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, res.SubscriptionID)
		}
		if err != nil {
			return fmt.Errorf("failed to load subscription: %w", err)
		}
		sub = subscriptionFromRecord(rec)
		from = sub.Status
		now := s.now(ctx, sub.CustomerID)

		if res.ProviderPaymentID != "" {
			n, err := tx.Count(ctx, ModelPayment, []storage.Where{
				storage.Eq("subscription_id", sub.ID),
				storage.Eq("provider_payment_id", res.ProviderPaymentID),
				storage.In("status", []string{string(PaymentSucceeded), string(PaymentFailed)}),
			})
			if err != nil {
				return fmt.Errorf("failed to check ledger: %w", err)
			}
			if n > 0 {
				outcome = OutcomeDuplicate
				// Paddle sends transaction.paid before the subscription exists.
				if res.ProviderSubscriptionID != "" && sub.ProviderSubscriptionID == "" {
					sub.ProviderSubscriptionID = res.ProviderSubscriptionID
					return saveSubscription(ctx, tx, &sub, now)
				}
				return nil
			}
		}

		pending, hasPending, err := pendingPayment(ctx, tx, sub.ID, res.ProviderPaymentID)
		if err != nil {
			return err
		}

		price, priceErr := s.catalog.Price(sub.PlanCode, sub.Interval)
		amount, currency := price.Amount, price.Currency
		if res.Amount != nil {
			amount = *res.Amount
		}
		if res.Currency != "" {
			currency = res.Currency
		}

		var (
			payStatus = PaymentSucceeded
			payType   = PaymentSubscription
		)
		if res.Status == payment.StatusFailed {
			payStatus = PaymentFailed
		}

		captured := res.Status == payment.StatusActive && res.ProviderPaymentID != ""
		renewal := captured && !hasPending &&
			(sub.Status == StatusActive || sub.Status == StatusTrialing) &&
			s.gatewayRenews(sub)

		if sub.Status == StatusCanceled || (!renewal && !applies(sub.Status, res.Status, hasPending)) {
			switch {
			case hasPending:
				if err := settlePayment(ctx, tx, pending, payStatus, res, now); err != nil {
					return err
				}
			case captured:
				if err := insertPayment(ctx, tx, &Payment{
					CustomerID:        sub.CustomerID,
					SubscriptionID:    sub.ID,
					Type:              PaymentSubscription,
					Status:            PaymentSucceeded,
					Amount:            amount,
					Currency:          currency,
					ProviderPaymentID: res.ProviderPaymentID,
					Reason:            "captured for a " + string(sub.Status) + " subscription",
				}, now); err != nil {
					return err
				}
			default:
				outcome = OutcomeDuplicate
				return nil
			}
			outcome = OutcomeOrphaned
			return nil
		}
		outcome = OutcomeApplied

		switch {
		case renewal:
			if priceErr != nil {
				return priceErr
			}
			payType = PaymentRenewal
			advancePeriod(&sub)
		case res.Status == payment.StatusActive && sub.Status == StatusPending:
			if priceErr != nil {
				return priceErr
			}
			sub.Status = StatusActive
			sub.CurrentPeriodStart = now
			sub.CurrentPeriodEnd = sub.Interval.Add(now)
		case res.Status == payment.StatusActive && sub.Status == StatusPastDue:
			payType = PaymentRenewal
			advancePeriod(&sub)
		case res.Status == payment.StatusFailed && sub.Status != StatusPending:
			payType = PaymentRenewal
			if sub.Status != StatusPastDue {
				sub.PastDueSince = timePtr(now)
			}
			sub.Status = StatusPastDue
			sub.FailedAttempts++
		}

		if hasPending {
			if err := settlePayment(ctx, tx, pending, payStatus, res, now); err != nil {
				return err
			}
		} else {
			if err := insertPayment(ctx, tx, &Payment{
				CustomerID:        sub.CustomerID,
				SubscriptionID:    sub.ID,
				Type:              payType,
				Status:            payStatus,
				Amount:            amount,
				Currency:          currency,
				ProviderPaymentID: res.ProviderPaymentID,
			}, now); err != nil {
				return err
			}
		}

		if res.ProviderSubscriptionID != "" {
			sub.ProviderSubscriptionID = res.ProviderSubscriptionID
		}
		if res.ProviderCustomerID != "" {
			if _, err := tx.Update(ctx, ModelCustomer, byID(sub.CustomerID), storage.Record{
				"provider_customer_id": res.ProviderCustomerID,
				"updated_at":           now,
			}); err != nil {
				return fmt.Errorf("failed to update customer: %w", err)
			}
		}
		return saveSubscription(ctx, tx, &sub, now)
	})
	if err != nil {
		return "", err
	}

	switch outcome {
	case OutcomeApplied:
		s.log.InfoContext(ctx, "payment event reconciled",
			logger.SubscriptionID(sub.ID),
			logger.PaymentID(res.ProviderPaymentID),
			logger.Event(string(res.Status)),
			logger.Transition(string(from), string(sub.Status)),
		)
	case OutcomeOrphaned:
		s.log.WarnContext(ctx, "payment recorded for a subscription that cannot take it",
			logger.SubscriptionID(sub.ID),
			logger.PaymentID(res.ProviderPaymentID),
			logger.Event(string(res.Status)),
			slog.String("subscription_status", string(sub.Status)),
		)
	}
	return outcome, nil
}

// gatewayRenews reports whether the gateway bills sub's renewals on its own
// schedule. Such subscriptions are renewed by webhook, never by Charge.
func (s *Service) gatewayRenews(sub Subscription) bool {
	rc, ok := s.payments.(payment.RenewalCollector)
	return ok && sub.ProviderSubscriptionID != "" && rc.CollectsRenewals()
}

// applies reports whether an event still has something to do. Events for a
// subscription that already reached the event's outcome, with no pending
// payment to settle, were applied before.
func applies(current Status, event payment.Status, hasPending bool) bool {
	if hasPending {
		return true
	}
	switch event {
	case payment.StatusActive:
		return current == StatusPending || current == StatusPastDue
	case payment.StatusFailed:
		return current == StatusActive || current == StatusTrialing
	}
	return false
}

// pendingPayment picks the pending row an event settles: the one already
// carrying the event's provider payment id, else the newest.
func pendingPayment(ctx context.Context, db storage.Adapter, subscriptionID, providerPaymentID string) (Payment, bool, error) {
	where := []storage.Where{
		storage.Eq("subscription_id", subscriptionID),
		storage.Eq("status", string(PaymentPending)),
	}
	if providerPaymentID != "" {
		rec, err := db.FindOne(ctx, ModelPayment, append(slices.Clone(where), storage.Eq("provider_payment_id", providerPaymentID)))
		if err == nil {
			return paymentFromRecord(rec), true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return Payment{}, false, fmt.Errorf("failed to load pending payment: %w", err)
		}
	}

	recs, err := db.FindMany(ctx, ModelPayment, storage.Query{
		Where:  where,
		SortBy: &storage.SortBy{Field: "created_at", Direction: storage.SortDesc},
		Limit:  1,
	})
	if err != nil {
		return Payment{}, false, fmt.Errorf("failed to load pending payment: %w", err)
	}
	if len(recs) == 0 {
		return Payment{}, false, nil
	}
	return paymentFromRecord(recs[0]), true, nil
}

func settlePayment(ctx context.Context, tx storage.Adapter, p Payment, status PaymentStatus, res payment.ConfirmResult, now time.Time) error {
	patch := storage.Record{"status": string(status), "updated_at": now}
	if res.ProviderPaymentID != "" {
		patch["provider_payment_id"] = res.ProviderPaymentID
	}
	if res.Amount != nil {
		patch["amount"] = *res.Amount
	}
	if _, err := tx.Update(ctx, ModelPayment, byID(p.ID), patch); err != nil {
		return fmt.Errorf("failed to settle pending payment: %w", err)
	}
	return nil
}
