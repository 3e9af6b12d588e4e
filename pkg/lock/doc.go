// Package lock provides expiring mutual exclusion for jobs that must not run
// concurrently, such as the renewal sweep when several replicas share a
// scheduler.
//
// Memory serves a single process. Redis uses SET NX PX with a random owner
// token and releases through a compare-and-delete script, so an owner whose
// lock expired cannot release a lock another replica has since taken.
//
//	client, err := lock.ConnectRedis(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	locker := lock.NewRedis(client, cfg.KeyPrefix)
//
//	release, err := locker.Acquire(ctx, "renewals", 10*time.Minute)
//	if errors.Is(err, lock.ErrLockHeld) {
//	    return nil // another replica is sweeping
//	}
//	defer release(ctx)
package lock
