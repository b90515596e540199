package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultLeeway = 60 * time.Second

// VerifierConfig configures token verification.
type VerifierConfig struct {
	// Issuer is the expected iss claim.
	Issuer string

	// Audience is the expected aud claim. Tokens minted for downstream
	// servers fail this check even when their signature is valid.
	Audience string

	// AlgorithmAllowlist restricts accepted signing algorithms.
	// Defaults to RS256 only.
	AlgorithmAllowlist []string

	// RoleClaimPath is the dot-separated path to roles in claims.
	RoleClaimPath string

	// RolePrefix filters roles to those starting with this prefix.
	RolePrefix string

	// Leeway tolerates clock skew on time-based claims. Defaults to 60s.
	Leeway time.Duration
}

// Verifier validates gateway access tokens and produces Principals.
type Verifier struct {
	issuer    string
	audience  string
	methods   []string
	leeway    time.Duration
	keys      *KeyCache
	extractor *ClaimsExtractor
}

// NewVerifier creates a verifier backed by the given key cache.
func NewVerifier(cfg VerifierConfig, keys *KeyCache) (*Verifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("key cache is required")
	}

	methods := cfg.AlgorithmAllowlist
	if len(methods) == 0 {
		methods = []string{"RS256"}
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}

	extractor := DefaultClaimsExtractor()
	if cfg.RoleClaimPath != "" {
		extractor.RoleClaimPath = cfg.RoleClaimPath
	}
	extractor.RolePrefix = cfg.RolePrefix

	return &Verifier{
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		methods:   methods,
		leeway:    leeway,
		keys:      keys,
		extractor: extractor,
	}, nil
}

// Verify parses and validates a bearer token. When the token references a
// signing key the cache has not seen, the key set is refreshed once and the
// token re-checked, so identity provider key rotation needs no restart.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	token, err := v.parse(ctx, raw)
	if err != nil && errors.Is(err, ErrUnknownKey) {
		if rerr := v.keys.Refresh(ctx); rerr == nil {
			token, err = v.parse(ctx, raw)
		}
	}
	if err != nil {
		return nil, classify(err)
	}

	return v.principal(raw, token)
}

// parse runs signature and claim validation against the cached keys.
func (v *Verifier) parse(ctx context.Context, raw string) (*jwt.Token, error) {
	return jwt.Parse(raw,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		},
		jwt.WithValidMethods(v.methods),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	)
}

// principal builds the caller identity from validated claims.
func (v *Verifier) principal(raw string, token *jwt.Token) (*Principal, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type %T", ErrMalformedToken, token.Claims)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrMalformedToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}

	m := map[string]any(claims)
	p := &Principal{
		Subject:   sub,
		Username:  v.extractor.Username(m),
		Roles:     v.extractor.Roles(m),
		RawToken:  raw,
		ExpiresAt: exp.Time,
		Claims:    m,
	}
	if p.Username == "" {
		p.Username = sub
	}
	return p, nil
}

// classify maps golang-jwt errors onto this package's sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w", ErrBadSignature)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w", ErrTokenExpired)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w", ErrBadAudience)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w", ErrIssuerMismatch)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: missing required claim", ErrMalformedToken)
	default:
		return fmt.Errorf("invalid token: %w", err)
	}
}
