package auth

import "errors"

// Sentinel errors for token verification failures. The HTTP layer maps all
// of these to 401 responses; the distinction is kept for logs and tests.
var (
	ErrNoToken        = errors.New("missing bearer token")
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrBadAudience    = errors.New("token audience mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrIssuerMismatch = errors.New("token issuer mismatch")
	ErrUnknownKey     = errors.New("signing key not found")
)
