package main

import (
	"github.com/dmitrymomot/billsdk/pkg/billing"
	"github.com/dmitrymomot/billsdk/pkg/httpserver"
)

// Backend selectors.
const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
	storageMongo    = "mongo"

	paymentsMock   = "mock"
	paymentsPaddle = "paddle"

	lockMemory = "memory"
	lockRedis  = "redis"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Service  string `env:"APP_NAME" envDefault:"billingd"`
	LogLevel string `env:"LOG_LEVEL"` // overrides the environment default

	Storage   string `env:"BILLING_STORAGE" envDefault:"memory"`    // memory | postgres | mongo
	Payments  string `env:"BILLING_PAYMENTS" envDefault:"mock"`     // mock | paddle
	SweepLock string `env:"BILLING_SWEEP_LOCK" envDefault:"memory"` // memory | redis

	RenewalSchedule string `env:"BILLING_RENEWAL_SCHEDULE" envDefault:"@every 5m"` // robfig/cron spec; empty disables the sweep
	MockWebhookKey  string `env:"BILLING_MOCK_WEBHOOK_SECRET"`
	MockCheckoutURL string `env:"BILLING_MOCK_CHECKOUT_URL"`
	EnableTestClock bool   `env:"BILLING_TEST_CLOCK"` // always on in development
	EnableCSRF      bool   `env:"BILLING_CSRF" envDefault:"false"`
	MetricsPath     string `env:"BILLING_METRICS_PATH" envDefault:"/metrics"`
	MountPath       string `env:"BILLING_MOUNT_PATH" envDefault:"/billing"`

	HTTP    httpserver.Config
	Billing billing.Config
}

func (c appConfig) isDevelopment() bool {
	switch c.Env {
	case "production", "prod", "staging", "stage":
		return false
	}
	return true
}

func (c appConfig) testClockEnabled() bool {
	return c.EnableTestClock || c.isDevelopment()
}
