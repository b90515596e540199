package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultKeyCacheTTL  = 10 * time.Minute
	defaultFetchTimeout = 10 * time.Second
	maxJWKSBody         = 1 << 20 // 1MB
)

// jwkSet is the wire form of a JSON Web Key Set.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// jwk is a single JSON Web Key.
type jwk struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg,omitempty"`
	// RSA public key parameters
	N string `json:"n,omitempty"` // modulus
	E string `json:"e,omitempty"` // exponent
	// EC public key parameters
	Curve string `json:"crv,omitempty"` // curve name
	X     string `json:"x,omitempty"`   // x coordinate
	Y     string `json:"y,omitempty"`   // y coordinate
}

// KeyCache fetches the identity provider's JWKS and caches the decoded
// public keys by key ID. Concurrent refreshes collapse into a single fetch.
type KeyCache struct {
	uri        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time

	group singleflight.Group
}

// NewKeyCache creates a key cache for the given JWKS URI. A zero ttl uses
// the default of 10 minutes; a nil httpClient uses a 10 second timeout.
func NewKeyCache(uri string, ttl time.Duration, httpClient *http.Client) *KeyCache {
	if ttl <= 0 {
		ttl = defaultKeyCacheTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &KeyCache{
		uri:        uri,
		ttl:        ttl,
		httpClient: httpClient,
		keys:       make(map[string]crypto.PublicKey),
	}
}

// Key returns the public key with the given ID, fetching the key set when it
// is stale or has never been loaded. A missing key after a fresh fetch
// returns ErrUnknownKey.
func (c *KeyCache) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: token header missing kid", ErrUnknownKey)
	}

	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if !fresh {
		if err := c.Refresh(ctx); err != nil {
			// Serve the previously cached key when the refresh fails;
			// public keys do not go bad, the set just gets stale.
			if ok {
				return key, nil
			}
			return nil, err
		}
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
	}
	return key, nil
}

// Refresh fetches the key set and replaces the cache. Concurrent callers
// share one fetch.
func (c *KeyCache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// fetch retrieves and decodes the JWKS document.
func (c *KeyCache) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.uri, nil)
	if err != nil {
		return nil, fmt.Errorf("creating JWKS request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing JWKS: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for i := range set.Keys {
		k := &set.Keys[i]
		if k.KeyID == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			// Skip keys the gateway cannot use (unknown kty, bad encoding).
			continue
		}
		keys[k.KeyID] = pub
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("jwks at %s contains no usable keys", c.uri)
	}
	return keys, nil
}

// publicKey converts the JWK to a crypto public key.
func (k *jwk) publicKey() (crypto.PublicKey, error) {
	switch k.KeyType {
	case "RSA":
		return k.rsaPublicKey()
	case "EC":
		return k.ecdsaPublicKey()
	default:
		return nil, fmt.Errorf("unsupported key type: %s", k.KeyType)
	}
}

// rsaPublicKey decodes the RSA modulus and exponent.
func (k *jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, fmt.Errorf("missing RSA key parameters")
	}

	nBytes, err := base64URLDecode(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64URLDecode(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 {
		return nil, fmt.Errorf("invalid RSA exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// ecdsaPublicKey decodes the EC curve point.
func (k *jwk) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	if k.X == "" || k.Y == "" || k.Curve == "" {
		return nil, fmt.Errorf("missing EC key parameters")
	}

	xBytes, err := base64URLDecode(k.X)
	if err != nil {
		return nil, fmt.Errorf("decoding x coordinate: %w", err)
	}
	yBytes, err := base64URLDecode(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decoding y coordinate: %w", err)
	}

	curve, err := curveForName(k.Curve)
	if err != nil {
		return nil, err
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// curveForName maps a JWK crv name to a crypto/elliptic curve.
func curveForName(name string) (elliptic.Curve, error) {
	switch name {
	case "P-256":
		return elliptic.P256(), nil
	case "P-384":
		return elliptic.P384(), nil
	case "P-521":
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("unsupported curve: %s", name)
	}
}

// base64URLDecode decodes base64url with or without padding.
func base64URLDecode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
