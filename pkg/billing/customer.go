package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/billsdk/pkg/logger"
	"github.com/dmitrymomot/billsdk/pkg/storage"
)

// CreateCustomerParams identifies a host-application account.
type CreateCustomerParams struct {
	ExternalID string
	Email      string
	Name       string
	Metadata   map[string]any
}

// CreateCustomer registers a customer. It is idempotent on ExternalID: an
// existing customer is returned unchanged.
func (s *Service) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	if params.ExternalID == "" {
		return nil, ErrMissingExternalID
	}

	existing, err := findCustomerByExternalID(ctx, s.store, params.ExternalID)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return nil, err
	}

	now := s.now(ctx, "")
	c := Customer{
		ExternalID: params.ExternalID,
		Email:      params.Email,
		Name:       params.Name,
		Metadata:   params.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec, err := s.store.Create(ctx, ModelCustomer, c.record())
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost a race with a concurrent create for the same external id.
		existing, ferr := findCustomerByExternalID(ctx, s.store, params.ExternalID)
		if ferr != nil {
			return nil, ferr
		}
		return &existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	c = customerFromRecord(rec)
	s.log.InfoContext(ctx, "customer created", logger.CustomerID(c.ID))
	return &c, nil
}

// GetCustomer looks a customer up by external id.
func (s *Service) GetCustomer(ctx context.Context, externalID string) (*Customer, error) {
	c, err := findCustomerByExternalID(ctx, s.store, externalID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
