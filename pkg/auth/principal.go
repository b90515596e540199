// Package auth verifies gateway access tokens against the identity
// provider's published signing keys.
package auth

import "time"

// Principal is the verified identity of a gateway caller.
type Principal struct {
	// Subject is the stable user identifier from the token's sub claim.
	Subject string

	// Username is the human-readable name, taken from preferred_username
	// when present and falling back to Subject.
	Username string

	// Roles holds the access roles extracted from the configured claim path.
	Roles []string

	// RawToken is the original bearer token. It is retained because token
	// exchange uses it as the subject token for downstream audiences.
	RawToken string

	// ExpiresAt is the token's expiry.
	ExpiresAt time.Time

	// Claims holds the full decoded claim set.
	Claims map[string]any
}

// HasRole reports whether the principal holds the given role.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
