package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/billsdk/pkg/clock"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// Plugin extends the engine at construction time.
type Plugin struct {
	// ID is unique across plugins and names the mount point
	// /plugins/<id>/ of the plugin's endpoints.
	ID string

	// Schema declares extra storage models. Models must not collide with the
	// core models or with other plugins.
	Schema storage.Schema

	Endpoints []Endpoint

	// Init runs once inside NewService, after the schema is resolved.
	Init func(ctx context.Context, ic InitContext) (InitResult, error)
}

// Endpoint is an HTTP handler mounted under the plugin's prefix.
// Path is relative to that prefix and starts with "/".
type Endpoint struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Renewer runs the renewal sweep for a single customer. zero now means the
// customer's current time.
type Renewer interface {
	ProcessCustomerRenewals(ctx context.Context, customerID string, now time.Time) (*RenewalReport, error)
}

// InitContext is handed to Plugin.Init.
type InitContext struct {
	Storage storage.Adapter
	Catalog *Catalog
	Logger  *slog.Logger
	// Clock is the provider configured before plugins ran.
	Clock clock.Provider
	// Renewer becomes usable once NewService returns.
	Renewer Renewer
}

// InitResult lets a plugin replace engine dependencies. At most one plugin
// may set Clock.
type InitResult struct {
	Clock clock.Provider
}

// ResolveSchema merges the core models with every plugin fragment.
// Pass the result to storage adapters that validate model names.
func ResolveSchema(plugins ...Plugin) (storage.Schema, error) {
	schema := CoreSchema()
	for _, p := range plugins {
		if len(p.Schema) == 0 {
			continue
		}
		merged, err := schema.Merge(p.Schema)
		if err != nil {
			return nil, fmt.Errorf("%w: plugin %q: %w", ErrSchemaConflict, p.ID, err)
		}
		schema = merged
	}
	return schema, nil
}

func validatePlugins(plugins []Plugin) error {
	ids := make(map[string]bool, len(plugins))
	for _, p := range plugins {
		if p.ID == "" || strings.ContainsAny(p.ID, "/ ") {
			return fmt.Errorf("%w: id %q", ErrInvalidPlugin, p.ID)
		}
		if ids[p.ID] {
			return fmt.Errorf("%w: id %q registered twice", ErrInvalidPlugin, p.ID)
		}
		ids[p.ID] = true

		routes := make(map[string]bool, len(p.Endpoints))
		for _, e := range p.Endpoints {
			if e.Handler == nil || !strings.HasPrefix(e.Path, "/") || e.Method == "" {
				return fmt.Errorf("%w: plugin %q: bad endpoint %s %q", ErrInvalidPlugin, p.ID, e.Method, e.Path)
			}
			key := strings.ToUpper(e.Method) + " " + e.Path
			if routes[key] {
				return fmt.Errorf("%w: plugin %q: duplicate endpoint %s", ErrInvalidPlugin, p.ID, key)
			}
			routes[key] = true
		}
	}
	return nil
}

// initPlugins runs every Init in order and returns the resolved clock.
func initPlugins(ctx context.Context, plugins []Plugin, ic InitContext) (clock.Provider, error) {
	resolved := ic.Clock
	var replacedBy string
	for _, p := range plugins {
		if p.Init == nil {
			continue
		}
		res, err := p.Init(ctx, ic)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %q", ErrPluginInitFailed, p.ID), err)
		}
		if res.Clock == nil {
			continue
		}
		if replacedBy != "" {
			return nil, fmt.Errorf("%w: %q and %q", ErrClockConflict, replacedBy, p.ID)
		}
		replacedBy = p.ID
		resolved = res.Clock
	}
	return resolved, nil
}
