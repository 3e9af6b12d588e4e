package billing

import (
	"context"
	"fmt"
	"time"
)

// FailureAction is what happens to a subscription after a renewal charge fails.
type FailureAction string

const (
	ActionKeepPastDue FailureAction = "keep_past_due"
	ActionRetry       FailureAction = "retry"
	ActionCancel      FailureAction = "cancel"
	ActionDowngrade   FailureAction = "downgrade"
)

// FailureInfo describes a failed renewal charge. Subscription is already
// past_due with FailedAttempts incremented and PastDueSince set.
type FailureInfo struct {
	Subscription Subscription
	Price        Price
	Err          error
	Now          time.Time
}

// FailureDecision is returned by a FailureBehavior. RetryAt is used by
// ActionRetry; Plan and Interval by ActionDowngrade.
type FailureDecision struct {
	Action   FailureAction
	RetryAt  time.Time
	Plan     string
	Interval Interval
}

// FailureBehavior decides how the renewal processor reacts to a declined
// charge. The engine never retries on its own: a retry is a scheduled
// next_retry_at that a later sweep picks up.
type FailureBehavior interface {
	Decide(ctx context.Context, info FailureInfo) FailureDecision
}

// FailureBehaviorFunc adapts a function to FailureBehavior.
type FailureBehaviorFunc func(ctx context.Context, info FailureInfo) FailureDecision

func (f FailureBehaviorFunc) Decide(ctx context.Context, info FailureInfo) FailureDecision {
	return f(ctx, info)
}

// catalogValidator is implemented by behaviors that reference catalog entries.
type catalogValidator interface {
	validate(c *Catalog) error
}

// StayPastDue leaves the subscription past_due until a webhook or a manual
// action resolves it.
func StayPastDue() FailureBehavior {
	return FailureBehaviorFunc(func(context.Context, FailureInfo) FailureDecision {
		return FailureDecision{Action: ActionKeepPastDue}
	})
}

// RetryAttempts retries the charge every interval until attempts charges have
// failed in a row, then cancels.
func RetryAttempts(attempts int, every time.Duration) FailureBehavior {
	return FailureBehaviorFunc(func(_ context.Context, info FailureInfo) FailureDecision {
		if info.Subscription.FailedAttempts >= attempts {
			return FailureDecision{Action: ActionCancel}
		}
		return FailureDecision{Action: ActionRetry, RetryAt: info.Now.Add(every)}
	})
}

// GracePeriod retries every interval while the subscription has been past
// due for less than grace, then cancels. The last retry lands on the end of
// the grace window.
func GracePeriod(grace, every time.Duration) FailureBehavior {
	return FailureBehaviorFunc(func(_ context.Context, info FailureInfo) FailureDecision {
		since := info.Now
		if info.Subscription.PastDueSince != nil {
			since = *info.Subscription.PastDueSince
		}
		deadline := since.Add(grace)
		if !info.Now.Before(deadline) {
			return FailureDecision{Action: ActionCancel}
		}
		next := info.Now.Add(every)
		if next.After(deadline) {
			next = deadline
		}
		return FailureDecision{Action: ActionRetry, RetryAt: next}
	})
}

type downgrade struct {
	plan     string
	interval Interval
}

// DowngradeTo moves the subscription to a free price at once. The plan and
// interval are checked against the catalog when the service is built.
func DowngradeTo(plan string, interval Interval) FailureBehavior {
	return downgrade{plan: plan, interval: interval}
}

func (d downgrade) Decide(context.Context, FailureInfo) FailureDecision {
	return FailureDecision{Action: ActionDowngrade, Plan: d.plan, Interval: d.interval}
}

func (d downgrade) validate(c *Catalog) error {
	price, err := c.Price(d.plan, d.interval)
	if err != nil {
		return err
	}
	if !price.Free() {
		return fmt.Errorf("%w: downgrade target %q/%s is not free", ErrInvalidCatalog, d.plan, d.interval)
	}
	return nil
}
