package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsdk/pkg/logger"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health reports "alive" when no checks are given. Otherwise every check runs
// on each request; any failure turns the response into a 503 "not_ready".
func Health(log *slog.Logger, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rep := healthReport{Status: "alive"}
		status := http.StatusOK

		if len(checks) > 0 {
			rep.Status = "ready"
			rep.Checks = make(map[string]string, len(checks))
			for _, c := range checks {
				if err := c.Fn(r.Context()); err != nil {
					log.ErrorContext(r.Context(), "readiness check failed",
						slog.String("check", c.Name), logger.Error(err))
					rep.Checks[c.Name] = "fail"
					rep.Status = "not_ready"
					status = http.StatusServiceUnavailable
					continue
				}
				rep.Checks[c.Name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(rep)
	}
}
