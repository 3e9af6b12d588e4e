package testclock

import "errors"

var (
	ErrNotInitialized   = errors.New("testclock: plugin is not initialized")
	ErrMissingCustomer  = errors.New("testclock: customer_id is required")
	ErrCustomerNotFound = errors.New("testclock: customer not found")
	ErrInvalidRequest   = errors.New("testclock: invalid request")
	ErrTimeTravelBack   = errors.New("testclock: simulated time cannot move backwards")
)
