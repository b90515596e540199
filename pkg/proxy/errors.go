package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for activation and dispatch failures. The gateway's tool
// layer maps these to user-facing messages and wire error kinds.
var (
	// ErrServerNotFound indicates the requested server is not in the catalog.
	ErrServerNotFound = errors.New("server not found")

	// ErrRoleMissing indicates the caller lacks the role a server requires.
	ErrRoleMissing = errors.New("required role missing")

	// ErrToolCollision indicates a discovered tool name is already owned by
	// a different server.
	ErrToolCollision = errors.New("tool name collision")

	// ErrNotEnabled indicates a proxied tool was called in a session that
	// has not enabled its owning server.
	ErrNotEnabled = errors.New("server not enabled in session")
)

// RoleError reports a failed role pre-check during activation.
type RoleError struct {
	User   string
	Role   string
	Server string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("user %q lacks role %q required for server %q", e.User, e.Role, e.Server)
}

func (e *RoleError) Unwrap() error { return ErrRoleMissing }

// DeniedError reports an identity provider refusal to mint a token for a
// server's audience. It wraps the underlying tokenx error so callers can
// still test with errors.Is.
type DeniedError struct {
	Audience string
	Err      error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("token exchange denied for audience %q: %v", e.Audience, e.Err)
}

func (e *DeniedError) Unwrap() error { return e.Err }
