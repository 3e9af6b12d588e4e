// Package logger builds *slog.Logger values for the billing engine and its
// host binaries.
//
// New applies functional options on top of JSON-at-info defaults and wraps
// the handler so that values stored in the context (a request id, a tenant)
// are added to every record:
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "billingd"),
//	    logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	log.InfoContext(ctx, "subscription activated",
//	    logger.Component("billing"),
//	    logger.SubscriptionID(sub.ID),
//	    logger.Transition("pending", "active"),
//	)
//
// The attribute helpers keep key names consistent across packages. Helpers
// for optional identifiers return an empty Attr for empty values, which slog
// omits from the output.
package logger
