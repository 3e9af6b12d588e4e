package payment

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// MaxWebhookSize caps the webhook body an adapter reads.
const MaxWebhookSize = 1 << 20 // 1 MB

// ReadWebhookBody reads at most MaxWebhookSize bytes of r.Body and puts the
// bytes back so signature verifiers can read the body again.
func ReadWebhookBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if len(body) > MaxWebhookSize {
		return nil, fmt.Errorf("%w: body too large (max %d bytes)", ErrInvalidPayload, MaxWebhookSize)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
