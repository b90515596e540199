//go:build integration

package helpers

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials the gateway under test uses against the fake identity
// provider. Tests reference these when minting tokens and rendering the
// gateway config.
const (
	GatewayAudience     = "mcp-gateway"
	GatewayClientID     = "e2e-gateway"
	GatewayClientSecret = "e2e-secret"

	signingKeyID = "e2e-key-1"
	realmPath    = "/realms/e2e"
)

// RFC 8693 token exchange identifiers, as they appear on the wire.
const (
	exchangeGrantType = "urn:ietf:params:oauth:grant-type:token-exchange"
	accessTokenType   = "urn:ietf:params:oauth:token-type:access_token"
)

// FakeIDP is an in-process Keycloak stand-in. It serves a JWKS, mints RS256
// user tokens, and answers RFC 8693 token exchange requests. Exchanged
// tokens are opaque strings of the form
// "exchanged:<audience>:<subject>:<serial>" that fake downstream servers
// verify by prefix.
type FakeIDP struct {
	key *rsa.PrivateKey
	ts  *httptest.Server

	serial      atomic.Int64
	unavailable atomic.Bool

	mu        sync.Mutex
	subjects  map[string]string // raw subject token -> subject
	denied    map[string]bool   // audience -> exchange always denied
	exchanges map[string]int    // audience -> exchange request count
}

// StartIDP starts a fake identity provider. It is shut down when the test
// finishes.
func StartIDP(t *testing.T) *FakeIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}

	idp := &FakeIDP{
		key:       key,
		subjects:  make(map[string]string),
		denied:    make(map[string]bool),
		exchanges: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(realmPath+"/protocol/openid-connect/certs", idp.handleJWKS)
	mux.HandleFunc(realmPath+"/protocol/openid-connect/token", idp.handleToken)
	idp.ts = httptest.NewServer(mux)
	t.Cleanup(idp.ts.Close)

	return idp
}

// Issuer returns the issuer URL the gateway should be configured with.
func (i *FakeIDP) Issuer() string {
	return i.ts.URL + realmPath
}

// TokenOpts customizes a minted token. Zero values use gateway defaults.
type TokenOpts struct {
	Subject  string
	Roles    []string
	Audience string        // aud claim, defaults to GatewayAudience
	TTL      time.Duration // defaults to 15 minutes; negative mints an expired token
}

// MintToken signs a token for the given options and records it as a valid
// exchange subject.
func (i *FakeIDP) MintToken(t *testing.T, opts TokenOpts) string {
	t.Helper()

	audience := opts.Audience
	if audience == "" {
		audience = GatewayAudience
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":                i.Issuer(),
		"sub":                opts.Subject,
		"aud":                audience,
		"exp":                now.Add(ttl).Unix(),
		"iat":                now.Unix(),
		"preferred_username": opts.Subject,
		"realm_access":       map[string]any{"roles": opts.Roles},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = signingKeyID
	raw, err := token.SignedString(i.key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	i.mu.Lock()
	i.subjects[raw] = opts.Subject
	i.mu.Unlock()
	return raw
}

// MintUserToken signs a gateway-audience token for the given user.
func (i *FakeIDP) MintUserToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	return i.MintToken(t, TokenOpts{Subject: subject, Roles: roles})
}

// DenyAudience makes every exchange for the audience fail with
// access_denied, regardless of the subject.
func (i *FakeIDP) DenyAudience(audience string) {
	i.mu.Lock()
	i.denied[audience] = true
	i.mu.Unlock()
}

// SetUnavailable makes the token endpoint answer 503 until cleared.
func (i *FakeIDP) SetUnavailable(v bool) {
	i.unavailable.Store(v)
}

// Exchanges returns how many exchange requests the audience has received,
// denials included.
func (i *FakeIDP) Exchanges(audience string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exchanges[audience]
}

func (i *FakeIDP) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pub := &i.key.PublicKey
	resp := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"use": "sig",
			"kid": signingKeyID,
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (i *FakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if i.unavailable.Load() {
		http.Error(w, "identity provider down", http.StatusServiceUnavailable)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	if r.Form.Get("grant_type") != exchangeGrantType {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "only token exchange is supported")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok || clientID != GatewayClientID || clientSecret != GatewayClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	i.mu.Lock()
	subject, known := i.subjects[r.Form.Get("subject_token")]
	audience := r.Form.Get("audience")
	i.exchanges[audience]++
	denied := i.denied[audience]
	i.mu.Unlock()

	if !known {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "subject token not recognized")
		return
	}
	if denied {
		writeOAuthError(w, http.StatusForbidden, "access_denied", "audience policy denies this subject")
		return
	}

	access := fmt.Sprintf("exchanged:%s:%s:%d", audience, subject, i.serial.Add(1))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":      access,
		"issued_token_type": accessTokenType,
		"token_type":        "Bearer",
		"expires_in":        300,
	})
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}
