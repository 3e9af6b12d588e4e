// Package billing is an embeddable subscription engine.
//
// A Service combines a validated plan Catalog with a storage.Adapter and a
// payment.Adapter. It manages customers, the subscription lifecycle
// (pending, trialing, active, past_due, canceled), feature entitlement,
// plan changes with proration, renewal charging and webhook reconciliation.
// It never reads the wall clock or schedules work itself: time comes from a
// clock.Provider and renewals run when the host calls ProcessRenewals.
//
// # Setup
//
//	catalog, err := billing.LoadCatalogFile("catalog.yaml")
//	if err != nil {
//	    return err
//	}
//	schema, err := billing.ResolveSchema(plugins...)
//	if err != nil {
//	    return err
//	}
//	svc, err := billing.NewService(ctx, catalog,
//	    storage.NewMemory(storage.WithSchema(schema)),
//	    payment.NewMock(),
//	    billing.WithPlugins(plugins...),
//	    billing.WithFailureBehavior(billing.RetryAttempts(3, 24*time.Hour)),
//	)
//
// # Plan changes
//
// ChangeSubscription applies a ChangeStrategy. DeferDowngrades (the default)
// switches upgrades immediately with a prorated charge and schedules
// downgrades for the next renewal. ImmediateAlways switches every change at
// once and absorbs negative prorations.
//
// # Renewals
//
// ProcessRenewals is idempotent for a given time. Each due subscription is
// re-read and updated in its own transaction, and the charge for a period is
// sent with the idempotency key "<subscription id>:<period end>". A declined
// charge moves the subscription to past_due and asks the FailureBehavior
// what to do next.
//
// # HTTP
//
// Handler mounts the webhook endpoint, the CSRF token endpoint and plugin
// endpoints on a chi router.
package billing
