package billing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"
)

// FeatureKind describes how a feature is measured.
type FeatureKind string

const (
	FeatureBoolean FeatureKind = "boolean"
	FeatureMetered FeatureKind = "metered"
	FeatureSeats   FeatureKind = "seats"
)

// Feature is a capability a plan may grant.
type Feature struct {
	Code string      `yaml:"code"`
	Name string      `yaml:"name"`
	Kind FeatureKind `yaml:"kind"`
}

// Price is one billable option of a plan. Amount is in minor currency units.
type Price struct {
	Amount          int64    `yaml:"amount"`
	Currency        string   `yaml:"currency"`
	Interval        Interval `yaml:"interval"`
	TrialDays       int      `yaml:"trial_days"`
	ProviderPriceID string   `yaml:"provider_price_id"` // gateway catalog id, if the gateway needs one
}

// Free reports whether the price charges nothing.
func (p Price) Free() bool {
	return p.Amount == 0
}

// Plan is a named bundle of prices and features.
type Plan struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Prices      []Price  `yaml:"prices"`
	Features    []string `yaml:"features"`
}

// Price returns the plan's price for interval.
func (p Plan) Price(interval Interval) (Price, bool) {
	for _, pr := range p.Prices {
		if pr.Interval == interval {
			return pr, true
		}
	}
	return Price{}, false
}

// HasFeature reports whether the plan grants the feature code.
func (p Plan) HasFeature(code string) bool {
	return slices.Contains(p.Features, code)
}

// Catalog is the validated, read-only set of plans and features.
type Catalog struct {
	plans    []Plan
	byCode   map[string]int
	features []Feature
	byFeat   map[string]int
}

// NewCatalog validates plans and features and returns an immutable catalog.
// Plan codes and feature codes must be unique, every plan needs at least one
// price, intervals may not repeat within a plan, amounts and trial days must
// not be negative, currencies must be ISO 4217 codes and every feature code a
// plan lists must be declared.
func NewCatalog(features []Feature, plans []Plan) (*Catalog, error) {
	c := &Catalog{
		byCode: make(map[string]int, len(plans)),
		byFeat: make(map[string]int, len(features)),
	}

	var errs []error
	for _, f := range features {
		switch {
		case f.Code == "":
			errs = append(errs, errors.New("feature code is empty"))
			continue
		case f.Kind == "":
			f.Kind = FeatureBoolean
		case f.Kind != FeatureBoolean && f.Kind != FeatureMetered && f.Kind != FeatureSeats:
			errs = append(errs, fmt.Errorf("feature %q: unknown kind %q", f.Code, f.Kind))
		}
		if _, dup := c.byFeat[f.Code]; dup {
			errs = append(errs, fmt.Errorf("feature %q declared twice", f.Code))
			continue
		}
		c.byFeat[f.Code] = len(c.features)
		c.features = append(c.features, f)
	}

	if len(plans) == 0 {
		errs = append(errs, errors.New("no plans declared"))
	}
	for _, p := range plans {
		if p.Code == "" {
			errs = append(errs, errors.New("plan code is empty"))
			continue
		}
		if _, dup := c.byCode[p.Code]; dup {
			errs = append(errs, fmt.Errorf("plan %q declared twice", p.Code))
			continue
		}
		p, perrs := normalizePlan(p, c.byFeat)
		errs = append(errs, perrs...)
		c.byCode[p.Code] = len(c.plans)
		c.plans = append(c.plans, p)
	}

	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidCatalog}, errs...)...)
	}
	return c, nil
}

func normalizePlan(p Plan, features map[string]int) (Plan, []error) {
	var errs []error
	if len(p.Prices) == 0 {
		errs = append(errs, fmt.Errorf("plan %q has no prices", p.Code))
	}

	prices := make([]Price, 0, len(p.Prices))
	seen := make(map[Interval]bool, len(p.Prices))
	for _, pr := range p.Prices {
		interval, err := ParseInterval(string(pr.Interval))
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %q: %w", p.Code, err))
			continue
		}
		pr.Interval = interval
		if seen[interval] {
			errs = append(errs, fmt.Errorf("plan %q: interval %q priced twice", p.Code, interval))
			continue
		}
		seen[interval] = true

		if pr.Amount < 0 {
			errs = append(errs, fmt.Errorf("plan %q: negative amount %d", p.Code, pr.Amount))
		}
		if pr.TrialDays < 0 {
			errs = append(errs, fmt.Errorf("plan %q: negative trial days %d", p.Code, pr.TrialDays))
		}
		unit, err := currency.ParseISO(strings.TrimSpace(pr.Currency))
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %q: currency %q: %w", p.Code, pr.Currency, err))
		} else {
			pr.Currency = unit.String()
		}
		prices = append(prices, pr)
	}
	p.Prices = prices

	p.Features = slices.Clone(p.Features)
	for _, code := range p.Features {
		if _, ok := features[code]; !ok {
			errs = append(errs, fmt.Errorf("plan %q references undeclared feature %q", p.Code, code))
		}
	}
	return p, errs
}

// Plan looks up a plan by code.
func (c *Catalog) Plan(code string) (Plan, error) {
	i, ok := c.byCode[code]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, code)
	}
	return clonePlan(c.plans[i]), nil
}

// Plans returns every plan in declaration order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	for i, p := range c.plans {
		out[i] = clonePlan(p)
	}
	return out
}

// Price resolves the price of plan code for interval.
func (c *Catalog) Price(code string, interval Interval) (Price, error) {
	plan, err := c.Plan(code)
	if err != nil {
		return Price{}, err
	}
	pr, ok := plan.Price(interval)
	if !ok {
		return Price{}, fmt.Errorf("%w: plan %q, interval %q", ErrIntervalNotAvailable, code, interval)
	}
	return pr, nil
}

// Feature looks up a feature by code.
func (c *Catalog) Feature(code string) (Feature, error) {
	i, ok := c.byFeat[code]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %q", ErrFeatureNotFound, code)
	}
	return c.features[i], nil
}

// Features returns every declared feature in declaration order.
func (c *Catalog) Features() []Feature {
	return slices.Clone(c.features)
}

// PlanFeatures resolves the features granted by plan code.
func (c *Catalog) PlanFeatures(code string) ([]Feature, error) {
	plan, err := c.Plan(code)
	if err != nil {
		return nil, err
	}
	out := make([]Feature, 0, len(plan.Features))
	for _, fc := range plan.Features {
		out = append(out, c.features[c.byFeat[fc]])
	}
	return out, nil
}

func clonePlan(p Plan) Plan {
	p.Prices = slices.Clone(p.Prices)
	p.Features = slices.Clone(p.Features)
	return p
}

// CatalogFile is the document read by LoadCatalogYAML.
type CatalogFile struct {
	Features []Feature `yaml:"features"`
	Plans    []Plan    `yaml:"plans"`
}

// LoadCatalogYAML decodes a catalog document and validates it.
//
//	features:
//	  - {code: api, name: API access}
//	plans:
//	  - code: pro
//	    name: Pro
//	    features: [api]
//	    prices:
//	      - {amount: 2000, currency: USD, interval: monthly, trial_days: 14}
func LoadCatalogYAML(r io.Reader) (*Catalog, error) {
	var doc CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	return NewCatalog(doc.Features, doc.Plans)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCatalog, err)
	}
	defer f.Close()
	return LoadCatalogYAML(f)
}
