// Package clock provides the time source used by every time-sensitive billing
// operation. The engine never reads the wall clock directly; it asks a
// Provider, so hosts and tests can substitute a deterministic or per-customer
// clock.
//
// System is the wall clock in UTC. Manual is a settable clock for tests:
//
//	c := clock.NewManual(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
//	svc, _ := billing.NewService(ctx, catalog, store, payments, billing.WithClock(c))
//	c.AddDate(0, 1, 0) // one month later
package clock
