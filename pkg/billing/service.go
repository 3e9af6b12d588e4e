package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/clock"
	"github.com/dmitrymomot/billsdk/pkg/csrf"
	"github.com/dmitrymomot/billsdk/pkg/lock"
	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// Config holds engine settings a host reads from the environment.
type Config struct {
	CatalogPath   string        `env:"BILLING_CATALOG_PATH" envDefault:"catalog.yaml"`
	DefaultPlan   string        `env:"BILLING_DEFAULT_PLAN"`                     // free plan consulted when a customer has no subscription
	SweepLockTTL  time.Duration `env:"BILLING_SWEEP_LOCK_TTL" envDefault:"10m"`  // upper bound for one renewal sweep
	ChangePolicy  string        `env:"BILLING_CHANGE_POLICY" envDefault:"defer"` // defer | immediate
	RetryAttempts int           `env:"BILLING_RETRY_ATTEMPTS" envDefault:"0"`    // 0 keeps failed renewals past_due
	RetryEvery    time.Duration `env:"BILLING_RETRY_EVERY" envDefault:"24h"`
}

// Options derives service options from cfg.
func (c Config) Options() []Option {
	var opts []Option
	if c.DefaultPlan != "" {
		opts = append(opts, WithDefaultPlan(c.DefaultPlan))
	}
	if c.ChangePolicy == "immediate" {
		opts = append(opts, WithChangeStrategy(ImmediateAlways))
	}
	if c.RetryAttempts > 0 {
		opts = append(opts, WithFailureBehavior(RetryAttempts(c.RetryAttempts, c.RetryEvery)))
	}
	return opts
}

const sweepLockKey = "billsdk:renewals"

// Service is the subscription engine. It holds no per-call state; every
// operation is a unit of work against the storage and payment adapters.
type Service struct {
	catalog  *Catalog
	store    storage.Adapter
	payments payment.Adapter
	clock    clock.Provider
	log      *slog.Logger

	strategy    ChangeStrategy
	onFailure   FailureBehavior
	defaultPlan string

	locker  lock.Locker
	lockTTL time.Duration

	csrf    *csrf.Config
	plugins []Plugin
	schema  storage.Schema
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. A plugin that replaces the clock takes
// precedence. Defaults to clock.System.
func WithClock(c clock.Provider) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the engine logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithChangeStrategy selects how ChangeSubscription applies plan changes.
// The default is DeferDowngrades.
func WithChangeStrategy(st ChangeStrategy) Option {
	return func(s *Service) {
		if st != nil {
			s.strategy = st
		}
	}
}

// WithFailureBehavior sets the reaction to declined renewal charges.
// The default is StayPastDue.
func WithFailureBehavior(b FailureBehavior) Option {
	return func(s *Service) {
		if b != nil {
			s.onFailure = b
		}
	}
}

// WithDefaultPlan names a free plan whose features customers without a
// subscription receive.
func WithDefaultPlan(code string) Option {
	return func(s *Service) {
		s.defaultPlan = code
	}
}

// WithPlugins registers plugins. They are validated and initialized once,
// in order, by NewService.
func WithPlugins(plugins ...Plugin) Option {
	return func(s *Service) {
		s.plugins = append(s.plugins, plugins...)
	}
}

// WithSweepLocker guards ProcessRenewals so that only one replica sweeps at a
// time. ttl bounds how long a crashed sweeper blocks others.
func WithSweepLocker(l lock.Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithCSRF enables the CSRF token endpoint and guards plugin endpoints.
func WithCSRF(cfg csrf.Config) Option {
	return func(s *Service) {
		s.csrf = &cfg
	}
}

// NewService validates its configuration, runs plugin Init hooks and returns
// a ready engine. It panics if catalog, store or payments is nil.
func NewService(ctx context.Context, catalog *Catalog, store storage.Adapter, payments payment.Adapter, opts ...Option) (*Service, error) {
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if store == nil {
		panic("billing: storage adapter is required")
	}
	if payments == nil {
		panic("billing: payment adapter is required")
	}

	s := &Service{
		catalog:   catalog,
		store:     store,
		payments:  payments,
		clock:     clock.System(),
		log:       logger.Discard(),
		strategy:  DeferDowngrades,
		onFailure: StayPastDue(),
		lockTTL:   10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing"))

	if s.defaultPlan != "" {
		plan, err := catalog.Plan(s.defaultPlan)
		if err != nil {
			return nil, errors.Join(ErrInvalidDefaultPlan, err)
		}
		if !hasFreePrice(plan) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDefaultPlan, s.defaultPlan)
		}
	}
	if v, ok := s.onFailure.(catalogValidator); ok {
		if err := v.validate(catalog); err != nil {
			return nil, err
		}
	}
	if s.csrf != nil && s.csrf.Secret == "" {
		return nil, csrf.ErrMissingSecret
	}

	if err := validatePlugins(s.plugins); err != nil {
		return nil, err
	}
	schema, err := ResolveSchema(s.plugins...)
	if err != nil {
		return nil, err
	}
	s.schema = schema

	resolved, err := initPlugins(ctx, s.plugins, InitContext{
		Storage: store,
		Catalog: catalog,
		Logger:  s.log,
		Clock:   s.clock,
		Renewer: s,
	})
	if err != nil {
		return nil, err
	}
	s.clock = resolved

	return s, nil
}

// Schema returns the resolved storage schema: core models plus plugin models.
func (s *Service) Schema() storage.Schema {
	return s.schema
}

// Catalog returns the engine's plan catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

func (s *Service) now(ctx context.Context, customerID string) time.Time {
	return s.clock.Now(ctx, customerID).UTC()
}

func hasFreePrice(p Plan) bool {
	for _, pr := range p.Prices {
		if pr.Free() {
			return true
		}
	}
	return false
}

func findCustomerByExternalID(ctx context.Context, db storage.Adapter, externalID string) (Customer, error) {
	if externalID == "" {
		return Customer{}, ErrMissingExternalID
	}
	rec, err := db.FindOne(ctx, ModelCustomer, []storage.Where{storage.Eq("external_id", externalID)})
	if errors.Is(err, storage.ErrNotFound) {
		return Customer{}, fmt.Errorf("%w: %q", ErrCustomerNotFound, externalID)
	}
	if err != nil {
		return Customer{}, fmt.Errorf("failed to load customer: %w", err)
	}
	return customerFromRecord(rec), nil
}

// currentSubscription returns the customer's non-canceled subscription,
// pending included.
func currentSubscription(ctx context.Context, db storage.Adapter, customerID string) (Subscription, error) {
	rec, err := db.FindOne(ctx, ModelSubscription, []storage.Where{
		storage.Eq("customer_id", customerID),
		storage.Ne("status", string(StatusCanceled)),
	})
	if errors.Is(err, storage.ErrNotFound) {
		return Subscription{}, ErrSubscriptionNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("failed to load subscription: %w", err)
	}
	return subscriptionFromRecord(rec), nil
}

func saveSubscription(ctx context.Context, db storage.Adapter, sub *Subscription, now time.Time) error {
	sub.UpdatedAt = now
	rec, err := db.Update(ctx, ModelSubscription, byID(sub.ID), sub.record())
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	*sub = subscriptionFromRecord(rec)
	return nil
}

func insertPayment(ctx context.Context, db storage.Adapter, p *Payment, now time.Time) error {
	p.CreatedAt, p.UpdatedAt = now, now
	rec, err := db.Create(ctx, ModelPayment, p.record())
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	*p = paymentFromRecord(rec)
	return nil
}
