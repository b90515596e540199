// Package http provides HTTP middleware for the MCP gateway.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/txn2/mcp-gateway/pkg/auth"
)

// TokenVerifier validates a raw bearer token and resolves the caller's
// principal. Implemented by auth.Verifier.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Principal, error)
}

// BearerAuth returns middleware that authenticates every request from its
// Authorization header before the MCP handler runs.
//
// When no bearer token is present, it returns HTTP 401 with a
// WWW-Authenticate header that triggers the OAuth discovery flow in MCP
// clients. Per the MCP authorization spec and RFC 9728, the header includes:
//
//	WWW-Authenticate: Bearer resource_metadata="<url>"
//
// The resourceMetadataURL should point to the gateway's
// /.well-known/oauth-protected-resource document; leave it empty to send a
// bare challenge.
//
// Tokens that fail verification (bad signature, wrong audience or issuer,
// expired) are rejected with 401 and error="invalid_token". On success the
// verified principal and the raw token are placed in the request context,
// where the MCP protocol middleware and token exchange read them.
func BearerAuth(verifier TokenVerifier, resourceMetadataURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeChallenge(w, resourceMetadataURL, "")
				http.Error(w, "Unauthorized: missing bearer token", http.StatusUnauthorized)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				writeChallenge(w, resourceMetadataURL, "invalid_token")
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			ctx := auth.WithToken(r.Context(), token)
			ctx = auth.WithPrincipal(ctx, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}

// writeChallenge sets the WWW-Authenticate header per RFC 6750 Section 3.
func writeChallenge(w http.ResponseWriter, resourceMetadataURL, errorCode string) {
	params := make([]string, 0, 2)
	if resourceMetadataURL != "" {
		params = append(params, `resource_metadata="`+resourceMetadataURL+`"`)
	}
	if errorCode != "" {
		params = append(params, `error="`+errorCode+`"`)
	}
	value := "Bearer"
	if len(params) > 0 {
		value += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", value)
}
