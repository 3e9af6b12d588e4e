package testclock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/clock"
	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

const (
	// ID is the plugin id and mount point.
	ID = "test-clock"
	// Model is the storage model holding simulated times.
	Model = "test_clock"
)

// TestClock keeps simulated per-customer time in storage.
type TestClock struct {
	mu      sync.RWMutex
	store   storage.Adapter
	base    clock.Provider
	renewer billing.Renewer
	log     *slog.Logger
}

// New returns an uninitialized plugin. It becomes usable once the billing
// service has run its Init.
func New() *TestClock {
	return &TestClock{base: clock.System(), log: logger.Discard()}
}

// Schema declares the test_clock model.
func Schema() storage.Schema {
	return storage.Schema{
		Model: {
			Name: Model,
			Fields: []storage.Field{
				{Name: "id", Type: storage.FieldString},
				{Name: "customer_id", Type: storage.FieldString, Unique: true},
				{Name: "now", Type: storage.FieldTime},
				{Name: "created_at", Type: storage.FieldTime},
				{Name: "updated_at", Type: storage.FieldTime},
			},
		},
	}
}

// Plugin describes the plugin to billing.WithPlugins.
func (c *TestClock) Plugin() billing.Plugin {
	return billing.Plugin{
		ID:     ID,
		Schema: Schema(),
		Endpoints: []billing.Endpoint{
			{Method: http.MethodGet, Path: "/", Handler: c.handleGet},
			{Method: http.MethodPost, Path: "/advance", Handler: c.handleAdvance},
			{Method: http.MethodPost, Path: "/reset", Handler: c.handleReset},
		},
		Init: c.init,
	}
}

func (c *TestClock) init(_ context.Context, ic billing.InitContext) (billing.InitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = ic.Storage
	if ic.Clock != nil {
		c.base = ic.Clock
	}
	c.renewer = ic.Renewer
	if ic.Logger != nil {
		c.log = ic.Logger.With(logger.Component("testclock"))
	}
	return billing.InitResult{Clock: clock.ProviderFunc(c.Now)}, nil
}

// Now returns the simulated time of an internal customer id, falling back to
// the base clock.
func (c *TestClock) Now(ctx context.Context, customerID string) time.Time {
	c.mu.RLock()
	store, base := c.store, c.base
	c.mu.RUnlock()

	if store == nil || customerID == "" {
		return base.Now(ctx, customerID)
	}
	rec, err := store.FindOne(ctx, Model, []storage.Where{storage.Eq("customer_id", customerID)})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.log.WarnContext(ctx, "failed to read test clock", logger.CustomerID(customerID), logger.Error(err))
		}
		return base.Now(ctx, customerID)
	}
	if t := rec.Time("now"); !t.IsZero() {
		return t
	}
	return base.Now(ctx, customerID)
}

// State is the clock of one customer.
type State struct {
	CustomerID string                 `json:"customer_id"`
	Now        time.Time              `json:"now"`
	Simulated  bool                   `json:"simulated"`
	Renewals   *billing.RenewalReport `json:"renewals,omitempty"`
}

// Get returns the customer's current time. customerID is an external id.
func (c *TestClock) Get(ctx context.Context, customerID string) (State, error) {
	store, internalID, err := c.resolve(ctx, customerID)
	if err != nil {
		return State{}, err
	}
	_, ferr := store.FindOne(ctx, Model, []storage.Where{storage.Eq("customer_id", internalID)})
	return State{
		CustomerID: customerID,
		Now:        c.Now(ctx, internalID),
		Simulated:  ferr == nil,
	}, nil
}

// Advance moves the customer's clock forward by d and runs the renewal sweep
// for that customer at the new time.
func (c *TestClock) Advance(ctx context.Context, customerID string, d time.Duration) (State, error) {
	if d < 0 {
		return State{}, ErrTimeTravelBack
	}
	_, internalID, err := c.resolve(ctx, customerID)
	if err != nil {
		return State{}, err
	}
	return c.set(ctx, customerID, internalID, c.Now(ctx, internalID).Add(d))
}

// Set moves the customer's clock to t, which may not be earlier than the
// current simulated time.
func (c *TestClock) Set(ctx context.Context, customerID string, t time.Time) (State, error) {
	_, internalID, err := c.resolve(ctx, customerID)
	if err != nil {
		return State{}, err
	}
	if t.Before(c.Now(ctx, internalID)) {
		return State{}, ErrTimeTravelBack
	}
	return c.set(ctx, customerID, internalID, t)
}

func (c *TestClock) set(ctx context.Context, externalID, internalID string, t time.Time) (State, error) {
	store, _, err := c.resolve(ctx, externalID)
	if err != nil {
		return State{}, err
	}
	t = t.UTC()
	stamp := c.base.Now(ctx, "")

	err = store.Transaction(ctx, func(tx storage.Adapter) error {
		where := []storage.Where{storage.Eq("customer_id", internalID)}
		_, err := tx.FindOne(ctx, Model, where)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			_, err = tx.Create(ctx, Model, storage.Record{
				"customer_id": internalID,
				"now":         t,
				"created_at":  stamp,
				"updated_at":  stamp,
			})
		case err == nil:
			_, err = tx.Update(ctx, Model, where, storage.Record{"now": t, "updated_at": stamp})
		}
		return err
	})
	if err != nil {
		return State{}, fmt.Errorf("failed to store test clock: %w", err)
	}

	state := State{CustomerID: externalID, Now: t, Simulated: true}
	if c.renewer != nil {
		report, err := c.renewer.ProcessCustomerRenewals(ctx, internalID, t)
		if err != nil {
			return state, fmt.Errorf("failed to run renewals: %w", err)
		}
		state.Renewals = report
	}
	c.log.InfoContext(ctx, "test clock moved", logger.CustomerID(internalID), slog.Time("now", t))
	return state, nil
}

// Reset removes the customer's simulated time.
func (c *TestClock) Reset(ctx context.Context, customerID string) (State, error) {
	store, internalID, err := c.resolve(ctx, customerID)
	if err != nil {
		return State{}, err
	}
	_, err = store.DeleteMany(ctx, Model, []storage.Where{storage.Eq("customer_id", internalID)})
	if err != nil {
		return State{}, fmt.Errorf("failed to reset test clock: %w", err)
	}
	return State{CustomerID: customerID, Now: c.Now(ctx, internalID)}, nil
}

// resolve maps an external customer id to the internal one.
func (c *TestClock) resolve(ctx context.Context, externalID string) (storage.Adapter, string, error) {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()

	if store == nil {
		return nil, "", ErrNotInitialized
	}
	if externalID == "" {
		return nil, "", ErrMissingCustomer
	}
	rec, err := store.FindOne(ctx, billing.ModelCustomer, []storage.Where{storage.Eq("external_id", externalID)})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("%w: %s", ErrCustomerNotFound, externalID)
	}
	if err != nil {
		return nil, "", err
	}
	return store, rec.ID(), nil
}
