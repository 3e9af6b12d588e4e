package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billsdk/pkg/csrf"
)

// Handler returns the engine's HTTP surface:
//
//	POST /webhook          gateway webhooks
//	GET  /csrf             CSRF cookie and token (with WithCSRF)
//	*    /plugins/<id>/... plugin endpoints
//
// Webhooks answer 200 for applied, duplicate and ignored events, 400 when
// verification fails so the gateway retries, and 500 when reconciliation
// fails. Plugin endpoints with unsafe methods require a valid CSRF token
// when WithCSRF is set.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", s.webhookHandler)

	if s.csrf != nil {
		r.Get("/csrf", csrf.IssueHandler(*s.csrf))
	}

	for _, p := range s.plugins {
		if len(p.Endpoints) == 0 {
			continue
		}
		r.Route("/plugins/"+p.ID, func(pr chi.Router) {
			if s.csrf != nil {
				pr.Use(csrf.Middleware(*s.csrf))
			}
			for _, e := range p.Endpoints {
				pr.Method(e.Method, e.Path, e.Handler)
			}
		})
	}

	return r
}

func (s *Service) webhookHandler(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.HandleWebhook(r)
	switch {
	case errors.Is(err, ErrWebhookVerificationFailed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid webhook"})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reconciliation failed"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
