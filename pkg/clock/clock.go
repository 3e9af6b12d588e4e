package clock

import (
	"context"
	"sync"
	"time"
)

// Provider returns the current time. The customerID lets implementations keep
// a separate timeline per customer (for example a simulated test clock); an
// empty customerID asks for the global time.
type Provider interface {
	Now(ctx context.Context, customerID string) time.Time
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func(ctx context.Context, customerID string) time.Time

func (f ProviderFunc) Now(ctx context.Context, customerID string) time.Time {
	return f(ctx, customerID)
}

type systemClock struct{}

// System returns a Provider backed by the wall clock, always in UTC.
func System() Provider {
	return systemClock{}
}

func (systemClock) Now(context.Context, string) time.Time {
	return time.Now().UTC()
}

// Manual is a Provider whose time only moves when told to.
// Safe for concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a Manual clock frozen at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

func (m *Manual) Now(context.Context, string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// AddDate moves the clock by calendar units, mirroring time.Time.AddDate.
func (m *Manual) AddDate(years, months, days int) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.AddDate(years, months, days)
	return m.now
}
