package api

import (
	"github.com/rs/zerolog"
)

// NewPaymentsClient creates the client for the payments audience. It differs
// from the general client only in base URL and in stamping idempotency keys
// on POSTs; it deliberately takes the same Authenticator so that both
// audiences share one credential scope and one refresh at a time.
func NewPaymentsClient(baseURL string, auth Authenticator, log zerolog.Logger, opts ...Option) *Client {
	opts = append([]Option{WithIdempotencyKeys()}, opts...)
	return NewClient(baseURL, auth, log.With().Str("audience", "payments").Logger(), opts...)
}
