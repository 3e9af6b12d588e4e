package csrf

import "errors"

var (
	ErrInvalidToken     = errors.New("csrf: malformed token")
	ErrSignatureInvalid = errors.New("csrf: token signature mismatch")
	ErrMissingSecret    = errors.New("csrf: secret is required")
	ErrTokenMismatch    = errors.New("csrf: header token does not match cookie")
)
