package tokenx

import "errors"

var (
	// ErrExchangeDenied indicates the identity provider refused to mint a
	// token for the requested audience, typically because the user lacks
	// the access role the audience requires.
	ErrExchangeDenied = errors.New("token exchange denied")

	// ErrSubjectTokenInvalid indicates the identity provider rejected the
	// subject token itself.
	ErrSubjectTokenInvalid = errors.New("subject token rejected")

	// ErrProviderUnavailable indicates the identity provider could not be
	// reached or failed internally.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)
