package http

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WellKnownProtectedResource is the discovery path defined by RFC 9728.
// Clients that receive a WWW-Authenticate challenge fetch the document
// under this path to learn which authorization server protects the
// gateway and where its signing keys live.
const WellKnownProtectedResource = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the OAuth 2.0 protected resource metadata
// document from RFC 9728 Section 2.
type ProtectedResourceMetadata struct {
	// Resource is the gateway's resource identifier. Clients request
	// tokens with this value as the audience.
	Resource string `json:"resource"`

	// AuthorizationServers lists the issuers whose tokens the gateway
	// accepts.
	AuthorizationServers []string `json:"authorization_servers"`

	// BearerMethodsSupported advertises how tokens may be presented. The
	// gateway only reads the Authorization header.
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`

	// JWKSURI points at the signing keys used to verify tokens.
	JWKSURI string `json:"jwks_uri,omitempty"`

	// ScopesSupported lists the scopes a client may request, if any.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
}

// ResourceFromMetadataURL recovers the resource identifier from a metadata
// URL by removing the well-known segment, inverting the RFC 9728 Section 3
// rule that inserts it between the host and the resource path. A URL
// without the segment is returned unchanged.
func ResourceFromMetadataURL(metadataURL string) string {
	i := strings.Index(metadataURL, WellKnownProtectedResource)
	if i < 0 {
		return metadataURL
	}
	return metadataURL[:i] + metadataURL[i+len(WellKnownProtectedResource):]
}

// MetadataHandler serves the protected resource metadata document. The
// endpoint must stay public: clients fetch it before they hold any token,
// so it never sits behind BearerAuth.
func MetadataHandler(meta *ProtectedResourceMetadata) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(meta); err != nil {
			http.Error(w, "encoding metadata", http.StatusInternalServerError)
		}
	})
}
