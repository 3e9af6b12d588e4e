package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Option configures Load.
type Option func(*options)

type options struct {
	prefix  string
	files   []string
	environ map[string]string
	skipDot bool
}

// WithPrefix prepends prefix to every env tag, so `env:"PORT"` reads
// "<prefix>PORT".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithEnvFiles loads the given dotenv files before parsing. Variables that
// are already set keep their values. A missing file is an error.
func WithEnvFiles(files ...string) Option {
	return func(o *options) { o.files = append(o.files, files...) }
}

// WithEnvironment parses from vars instead of the process environment.
// No dotenv file is read.
func WithEnvironment(vars map[string]string) Option {
	return func(o *options) {
		o.environ = vars
		o.skipDot = true
	}
}

// Load parses the environment into a new T. On first use it reads ./.env
// when present.
//
//	type Config struct {
//		Addr string `env:"ADDR" envDefault:":8080"`
//	}
//	cfg, err := config.Load[Config](config.WithPrefix("BILLING_"))
func Load[T any](opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if !o.skipDot {
		defaultEnvLoaded.Do(func() {
			// The file is optional.
			_ = godotenv.Load()
		})
		if len(o.files) > 0 {
			if err := godotenv.Load(o.files...); err != nil {
				var zero T
				return zero, errors.Join(ErrLoadingEnvFile, err)
			}
		}
	}

	cfg, err := env.ParseAsWithOptions[T](env.Options{
		Prefix:      o.prefix,
		Environment: o.environ,
	})
	if err != nil {
		var zero T
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad is Load for startup code: it panics on failure.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}
