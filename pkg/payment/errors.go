package payment

import "errors"

var (
	ErrDeclined         = errors.New("payment declined")
	ErrInvalidAmount    = errors.New("invalid payment amount")
	ErrUnsupported      = errors.New("operation not supported by payment provider")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)
