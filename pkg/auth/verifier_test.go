package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	verifierTestIssuer   = "https://idp.example.com/realms/mcp"
	verifierTestAudience = "mcp-gateway"
	verifierTestKid      = "gw-key-1"
)

// signToken signs claims with RS256 and the given kid header.
func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// idpClaims builds a standard claim set for the gateway audience.
func idpClaims(sub string, roles ...string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                verifierTestIssuer,
		"sub":                sub,
		"aud":                verifierTestAudience,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Add(-time.Minute).Unix(),
		"preferred_username": sub,
		"realm_access":       map[string]any{"roles": roles},
	}
}

// newTestVerifier wires a verifier against a JWKS server holding the shared
// test key under verifierTestKid.
func newTestVerifier(t *testing.T) (*Verifier, *jwksHandler) {
	t.Helper()
	key := testRSAKey(t)
	srv, h := newJWKSServer(t, rsaJWKSDoc(t, map[string]*rsa.PublicKey{verifierTestKid: &key.PublicKey}))

	v, err := NewVerifier(VerifierConfig{
		Issuer:   verifierTestIssuer,
		Audience: verifierTestAudience,
	}, NewKeyCache(srv.URL, time.Minute, nil))
	require.NoError(t, err)
	return v, h
}

func TestVerifier_ValidToken(t *testing.T) {
	v, _ := newTestVerifier(t)
	raw := signToken(t, testRSAKey(t), verifierTestKid, idpClaims("alice", "weather-user", "calc-user"))

	p, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, []string{"weather-user", "calc-user"}, p.Roles)
	assert.Equal(t, raw, p.RawToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), p.ExpiresAt, 5*time.Second)
}

func TestVerifier_UsernameFallsBackToSubject(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("svc-account-42")
	delete(claims, "preferred_username")
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	p, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "svc-account-42", p.Username)
}

func TestVerifier_MissingToken(t *testing.T) {
	v, _ := newTestVerifier(t)
	_, err := v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestVerifier_ExpiredToken(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	claims["exp"] = time.Now().Add(-2 * time.Hour).Unix()
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifier_LeewayToleratesClockSkew(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	claims["exp"] = time.Now().Add(-30 * time.Second).Unix()
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.NoError(t, err, "expiry within leeway should be accepted")
}

func TestVerifier_WrongAudience(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	claims["aud"] = "weather-mcp"
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrBadAudience)
}

func TestVerifier_AudienceArray(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	claims["aud"] = []string{"account", verifierTestAudience}
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.NoError(t, err, "aud arrays containing the gateway audience should be accepted")
}

func TestVerifier_WrongIssuer(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	claims["iss"] = "https://evil.example.com"
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerifier_TamperedSignature(t *testing.T) {
	v, _ := newTestVerifier(t)

	// Sign with a key the IdP never published, under the published kid.
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	raw := signToken(t, otherKey, verifierTestKid, idpClaims("alice"))

	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifier_DisallowedAlgorithm(t *testing.T) {
	v, _ := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, idpClaims("alice"))
	token.Header["kid"] = verifierTestKid
	raw, err := token.SignedString([]byte("shared-secret-at-least-32-bytes!"))
	require.NoError(t, err)

	p, verr := v.Verify(context.Background(), raw)
	assert.Error(t, verr, "HS256 must be rejected when only RS256 is allowed")
	assert.Nil(t, p)
}

func TestVerifier_KeyRotation(t *testing.T) {
	key := testRSAKey(t)
	srv, h := newJWKSServer(t, rsaJWKSDoc(t, map[string]*rsa.PublicKey{"old-kid": &key.PublicKey}))

	v, err := NewVerifier(VerifierConfig{
		Issuer:   verifierTestIssuer,
		Audience: verifierTestAudience,
	}, NewKeyCache(srv.URL, time.Minute, nil))
	require.NoError(t, err)

	// Warm the cache with the old key set.
	_, err = v.Verify(context.Background(), signToken(t, key, "old-kid", idpClaims("alice")))
	require.NoError(t, err)
	require.Equal(t, 1, h.count())

	// Rotate: the IdP starts signing with a new kid.
	h.set(rsaJWKSDoc(t, map[string]*rsa.PublicKey{"new-kid": &key.PublicKey}))
	raw := signToken(t, key, "new-kid", idpClaims("alice"))

	p, err := v.Verify(context.Background(), raw)
	require.NoError(t, err, "unknown kid should trigger one refresh and succeed")
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, 2, h.count(), "rotation should cost exactly one extra fetch")
}

func TestVerifier_UnknownKidAfterRefresh(t *testing.T) {
	v, h := newTestVerifier(t)
	raw := signToken(t, testRSAKey(t), "never-published", idpClaims("alice"))

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, 2, h.count(), "one initial fetch plus one forced refresh")
}

func TestVerifier_MissingKidHeader(t *testing.T) {
	v, _ := newTestVerifier(t)
	raw := signToken(t, testRSAKey(t), "", idpClaims("alice"))

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestVerifier_MalformedToken(t *testing.T) {
	v, _ := newTestVerifier(t)
	_, err := v.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifier_MissingSubject(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	delete(claims, "sub")
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifier_MissingExpiry(t *testing.T) {
	v, _ := newTestVerifier(t)
	claims := idpClaims("alice")
	delete(claims, "exp")
	raw := signToken(t, testRSAKey(t), verifierTestKid, claims)

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestNewVerifier_Validation(t *testing.T) {
	keys := NewKeyCache("http://idp.internal/jwks", time.Minute, nil)

	_, err := NewVerifier(VerifierConfig{Audience: "a"}, keys)
	assert.ErrorContains(t, err, "issuer is required")

	_, err = NewVerifier(VerifierConfig{Issuer: "i"}, keys)
	assert.ErrorContains(t, err, "audience is required")

	_, err = NewVerifier(VerifierConfig{Issuer: "i", Audience: "a"}, nil)
	assert.ErrorContains(t, err, "key cache is required")
}

func TestContext_TokenAndPrincipal(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetToken(ctx))
	assert.Nil(t, GetPrincipal(ctx))

	ctx = WithToken(ctx, "raw-token")
	ctx = WithPrincipal(ctx, &Principal{Subject: "alice"})

	assert.Equal(t, "raw-token", GetToken(ctx))
	require.NotNil(t, GetPrincipal(ctx))
	assert.Equal(t, "alice", GetPrincipal(ctx).Subject)
}
