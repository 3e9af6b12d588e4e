// Package httpserver runs the billing host's HTTP listener.
//
// Server wraps http.Server with env-driven timeouts and a graceful stop:
// Run blocks until the context is canceled or SIGINT/SIGTERM arrives, then
// drains in-flight requests for up to Config.ShutdownTimeout. Health returns
// a readiness handler that pings each named dependency and reports the
// result as JSON.
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	r.Get("/healthz", httpserver.Health(log, httpserver.Check{Name: "postgres", Fn: ping}))
//	if err := srv.Run(ctx, r); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
package httpserver
