package testclock

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

type advanceRequest struct {
	CustomerID string    `json:"customer_id"`
	Duration   string    `json:"duration,omitempty"` // Go duration, e.g. "720h"
	Days       int       `json:"days,omitempty"`
	To         time.Time `json:"to,omitzero"`
}

type resetRequest struct {
	CustomerID string `json:"customer_id"`
}

func (c *TestClock) handleGet(w http.ResponseWriter, r *http.Request) {
	state, err := c.Get(r.Context(), r.URL.Query().Get("customer_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (c *TestClock) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidRequest, err))
		return
	}

	var (
		state State
		err   error
	)
	switch {
	case !req.To.IsZero():
		state, err = c.Set(r.Context(), req.CustomerID, req.To)
	case req.Duration != "":
		d, perr := time.ParseDuration(req.Duration)
		if perr != nil {
			writeError(w, errors.Join(ErrInvalidRequest, perr))
			return
		}
		state, err = c.Advance(r.Context(), req.CustomerID, d)
	case req.Days > 0:
		state, err = c.Advance(r.Context(), req.CustomerID, time.Duration(req.Days)*24*time.Hour)
	default:
		err = ErrInvalidRequest
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (c *TestClock) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Join(ErrInvalidRequest, err))
		return
	}
	state, err := c.Reset(r.Context(), req.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrMissingCustomer), errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrTimeTravelBack):
		status = http.StatusBadRequest
	case errors.Is(err, ErrCustomerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNotInitialized):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
