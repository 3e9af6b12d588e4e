package billing

import "errors"

var (
	ErrInvalidCatalog       = errors.New("billing: invalid catalog")
	ErrFailedToLoadCatalog  = errors.New("billing: failed to load catalog")
	ErrPlanNotFound         = errors.New("billing: plan not found")
	ErrFeatureNotFound      = errors.New("billing: feature not found")
	ErrIntervalNotAvailable = errors.New("billing: interval not available for plan")
	ErrInvalidInterval      = errors.New("billing: invalid billing interval")
	ErrInvalidDefaultPlan   = errors.New("billing: default plan must exist and have a free price")

	ErrCustomerNotFound         = errors.New("billing: customer not found")
	ErrMissingExternalID        = errors.New("billing: customer external id is required")
	ErrSubscriptionNotFound     = errors.New("billing: subscription not found")
	ErrSubscriptionExists       = errors.New("billing: customer already has a live subscription")
	ErrNoActiveSubscription     = errors.New("billing: customer has no active subscription")
	ErrInvalidSubscriptionState = errors.New("billing: operation not allowed in current subscription state")
	ErrAlreadyOnPlan            = errors.New("billing: subscription is already on the requested plan")
	ErrCurrencyMismatch         = errors.New("billing: plans are priced in different currencies")
	ErrInvalidCancelMode        = errors.New("billing: invalid cancel mode")

	ErrPaymentNotFound      = errors.New("billing: payment not found")
	ErrPaymentFailed        = errors.New("billing: payment failed")
	ErrPaymentNotRefundable = errors.New("billing: payment is not refundable")
	ErrInvalidRefundAmount  = errors.New("billing: invalid refund amount")
	ErrRefundFailed         = errors.New("billing: refund failed")

	ErrWebhookVerificationFailed = errors.New("billing: webhook verification failed")
	ErrReconcileFailed           = errors.New("billing: failed to reconcile payment event")
	ErrSweepInProgress           = errors.New("billing: renewal sweep already running")

	ErrInvalidPlugin    = errors.New("billing: invalid plugin")
	ErrSchemaConflict   = errors.New("billing: plugin schema conflicts with an existing model")
	ErrClockConflict    = errors.New("billing: more than one plugin replaces the clock")
	ErrPluginInitFailed = errors.New("billing: plugin init failed")
)
