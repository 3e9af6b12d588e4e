package billing

import (
	"context"
	"errors"
)

// GetPlan returns a plan from the catalog.
func (s *Service) GetPlan(code string) (Plan, error) {
	return s.catalog.Plan(code)
}

// ListPlans returns every catalog plan in declaration order.
func (s *Service) ListPlans() []Plan {
	return s.catalog.Plans()
}

// CheckFeature reports whether the customer is entitled to featureCode: an
// active or trialing subscription whose plan grants it, or otherwise the
// default plan. Unknown customers are treated as having no subscription.
func (s *Service) CheckFeature(ctx context.Context, customerID, featureCode string) (bool, error) {
	if _, err := s.catalog.Feature(featureCode); err != nil {
		return false, err
	}
	plan, ok, err := s.entitledPlan(ctx, customerID)
	if err != nil || !ok {
		return false, err
	}
	return plan.HasFeature(featureCode), nil
}

// ListFeatures returns the features the customer is entitled to.
func (s *Service) ListFeatures(ctx context.Context, customerID string) ([]Feature, error) {
	plan, ok, err := s.entitledPlan(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Feature{}, nil
	}
	return s.catalog.PlanFeatures(plan.Code)
}

// entitledPlan resolves the plan that grants the customer's features.
func (s *Service) entitledPlan(ctx context.Context, externalID string) (Plan, bool, error) {
	cust, err := findCustomerByExternalID(ctx, s.store, externalID)
	switch {
	case errors.Is(err, ErrCustomerNotFound):
		return s.fallbackPlan()
	case err != nil:
		return Plan{}, false, err
	}

	sub, err := currentSubscription(ctx, s.store, cust.ID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return s.fallbackPlan()
	case err != nil:
		return Plan{}, false, err
	case !sub.Status.Entitled():
		return s.fallbackPlan()
	}

	plan, err := s.catalog.Plan(sub.PlanCode)
	if err != nil {
		// A plan removed from the catalog grants nothing.
		return s.fallbackPlan()
	}
	return plan, true, nil
}

func (s *Service) fallbackPlan() (Plan, bool, error) {
	if s.defaultPlan == "" {
		return Plan{}, false, nil
	}
	plan, err := s.catalog.Plan(s.defaultPlan)
	if err != nil {
		return Plan{}, false, err
	}
	return plan, true, nil
}
