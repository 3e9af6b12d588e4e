// Package testclock is a billing plugin that gives individual customers a
// simulated clock.
//
// The plugin stores one test_clock row per customer. While a row exists the
// engine sees that customer's time as the stored instant; everyone else gets
// the engine's regular clock. Advancing a clock runs the renewal sweep for
// the customer at the new time, so trials, renewals and deferred
// cancellations can be exercised without waiting:
//
//	tc := testclock.New()
//	svc, err := billing.NewService(ctx, catalog, store, payments,
//	    billing.WithPlugins(tc.Plugin()),
//	)
//	_, err = tc.Advance(ctx, "user_42", 30*24*time.Hour)
//
// Mounted through billing.Service.Handler the plugin serves:
//
//	GET  /plugins/test-clock/?customer_id=user_42
//	POST /plugins/test-clock/advance  {"customer_id": "user_42", "duration": "720h"}
//	POST /plugins/test-clock/reset    {"customer_id": "user_42"}
//
// Customer ids in the API are external ids. Never enable it in production.
package testclock
