// Command billingd hosts the billing engine as a standalone service: the
// billing HTTP surface, the renewal sweep on a cron schedule, Prometheus
// metrics and health probes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/config"
	"github.com/dmitrymomot/billsdk/pkg/csrf"
	"github.com/dmitrymomot/billsdk/pkg/httpserver"
	"github.com/dmitrymomot/billsdk/pkg/lock"
	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/payment"
	"github.com/dmitrymomot/billsdk/pkg/payment/paddle"
	"github.com/dmitrymomot/billsdk/pkg/plugins/testclock"
	"github.com/dmitrymomot/billsdk/pkg/storage"
	"github.com/dmitrymomot/billsdk/pkg/storage/mongostore"
	"github.com/dmitrymomot/billsdk/pkg/storage/pgstore"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "billingd:", err)
		os.Exit(1)
	}
}

// cleanup collects close funcs and runs them in reverse order.
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		return err
	}

	logOpts := []logger.Option{logger.WithEnvironment(cfg.Env, cfg.Service)}
	if cfg.LogLevel != "" {
		logOpts = append(logOpts, logger.WithLevelName(cfg.LogLevel))
	}
	log := logger.New(logOpts...)
	slog.SetDefault(log)

	var closers cleanup
	defer closers.run()

	catalog, err := billing.LoadCatalogFile(cfg.Billing.CatalogPath)
	if err != nil {
		return err
	}

	var plugins []billing.Plugin
	if cfg.testClockEnabled() {
		plugins = append(plugins, testclock.New().Plugin())
		log.WarnContext(ctx, "test clock enabled, customers can move their own time")
	}
	schema, err := billing.ResolveSchema(plugins...)
	if err != nil {
		return err
	}

	store, checks, err := openStorage(ctx, cfg, schema, log, &closers)
	if err != nil {
		return err
	}

	payments, err := openPayments(cfg)
	if err != nil {
		return err
	}

	locker, lockChecks, err := openLocker(ctx, cfg, &closers)
	if err != nil {
		return err
	}
	checks = append(checks, lockChecks...)

	opts := append(cfg.Billing.Options(),
		billing.WithLogger(log),
		billing.WithPlugins(plugins...),
		billing.WithSweepLocker(locker, cfg.Billing.SweepLockTTL),
	)
	if cfg.EnableCSRF {
		csrfCfg, err := config.Load[csrf.Config]()
		if err != nil {
			return err
		}
		opts = append(opts, billing.WithCSRF(csrfCfg))
	}

	svc, err := billing.NewService(ctx, catalog, store, payments, opts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := newSweepMetrics(reg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := cron.New(cron.WithLocation(time.UTC))
	if cfg.RenewalSchedule != "" {
		job := &sweepJob{ctx: runCtx, svc: svc, metrics: metrics, log: log, now: time.Now}
		if err := scheduleRenewals(sched, cfg.RenewalSchedule, job); err != nil {
			return err
		}
		sched.Start()
		log.InfoContext(ctx, "renewal sweep scheduled", slog.String("schedule", cfg.RenewalSchedule))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Get("/livez", httpserver.Health(log))
	r.Get("/healthz", httpserver.Health(log, checks...))
	r.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount(cfg.MountPath, svc.Handler())

	srv := httpserver.New(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithOnShutdown(func() {
			cancel()
			<-sched.Stop().Done()
		}),
	)

	log.InfoContext(ctx, "billingd starting",
		slog.String("storage", cfg.Storage),
		slog.String("payments", cfg.Payments),
		slog.String("sweep_lock", cfg.SweepLock),
		slog.Int("plans", len(catalog.Plans())),
	)
	return srv.Run(runCtx, r)
}

func openStorage(ctx context.Context, cfg appConfig, schema storage.Schema, log *slog.Logger, closers *cleanup) (storage.Adapter, []httpserver.Check, error) {
	switch cfg.Storage {
	case storageMemory, "":
		log.WarnContext(ctx, "in-memory storage, data is lost on restart")
		return storage.NewMemory(storage.WithSchema(schema)), nil, nil

	case storagePostgres:
		pgCfg, err := config.Load[pgstore.Config]()
		if err != nil {
			return nil, nil, err
		}
		pool, err := pgstore.Connect(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		db := pgstore.OpenDB(pool)
		closers.add(func() {
			_ = db.Close()
			pool.Close()
		})
		if err := pgstore.Migrate(ctx, db, pgCfg, log); err != nil {
			return nil, nil, err
		}
		check := httpserver.Check{Name: "postgres", Fn: pgstore.Healthcheck(db)}
		return pgstore.New(db, pgstore.WithSchema(schema)), []httpserver.Check{check}, nil

	case storageMongo:
		mgCfg, err := config.Load[mongostore.Config]()
		if err != nil {
			return nil, nil, err
		}
		client, err := mongostore.Connect(ctx, mgCfg)
		if err != nil {
			return nil, nil, err
		}
		closers.add(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		store := mongostore.New(client, mgCfg.Database,
			mongostore.WithSchema(schema),
			mongostore.WithCollectionPrefix(mgCfg.CollectionPrefix),
		)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, err
		}
		check := httpserver.Check{Name: "mongodb", Fn: mongostore.Healthcheck(client)}
		return store, []httpserver.Check{check}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func openPayments(cfg appConfig) (payment.Adapter, error) {
	switch cfg.Payments {
	case paymentsMock, "":
		if !cfg.isDevelopment() {
			return nil, errors.New("mock payments are only allowed in development")
		}
		var opts []payment.MockOption
		if cfg.MockWebhookKey != "" {
			opts = append(opts, payment.WithWebhookSecret(cfg.MockWebhookKey))
		}
		if cfg.MockCheckoutURL != "" {
			opts = append(opts, payment.WithCheckout(cfg.MockCheckoutURL))
		}
		return payment.NewMock(opts...), nil

	case paymentsPaddle:
		pdCfg, err := config.Load[paddle.Config]()
		if err != nil {
			return nil, err
		}
		provider, err := paddle.New(pdCfg)
		if err != nil {
			return nil, err
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.Payments)
}

func openLocker(ctx context.Context, cfg appConfig, closers *cleanup) (lock.Locker, []httpserver.Check, error) {
	switch cfg.SweepLock {
	case lockMemory, "":
		return lock.NewMemory(), nil, nil

	case lockRedis:
		rdCfg, err := config.Load[lock.RedisConfig]()
		if err != nil {
			return nil, nil, err
		}
		client, err := lock.ConnectRedis(ctx, rdCfg)
		if err != nil {
			return nil, nil, err
		}
		closers.add(func() { _ = client.Close() })
		check := httpserver.Check{Name: "redis", Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}}
		return lock.NewRedis(client, rdCfg.KeyPrefix), []httpserver.Check{check}, nil
	}
	return nil, nil, fmt.Errorf("unknown sweep lock %q", cfg.SweepLock)
}
