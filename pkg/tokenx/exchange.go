// Package tokenx implements OAuth 2.0 Token Exchange (RFC 8693) against the
// gateway's identity provider.
package tokenx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// grantTypeTokenExchange is the OAuth 2.0 Token Exchange grant type (RFC 8693).
	//nolint:gosec // G101: OAuth2 URN identifiers, not credentials
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"

	// tokenTypeAccessToken indicates an OAuth 2.0 access token.
	//nolint:gosec // G101: OAuth2 URN identifiers, not credentials
	tokenTypeAccessToken = "urn:ietf:params:oauth:token-type:access_token"

	// maxResponseBodySize caps token endpoint response reads (1 MB).
	maxResponseBodySize = 1 << 20

	defaultExchangeTimeout = 10 * time.Second
)

// oauthError is an OAuth 2.0 error response per RFC 6749 Section 5.2.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	statusCode  int
}

func (e *oauthError) String() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.statusCode, e.Description)
	}
	return fmt.Sprintf("%s (status %d)", e.Code, e.statusCode)
}

// parseOAuthError decodes an OAuth error body, returning nil when the body
// is not one.
func parseOAuthError(statusCode int, body []byte) *oauthError {
	var oerr oauthError
	if err := json.Unmarshal(body, &oerr); err != nil {
		return nil
	}
	if oerr.Code == "" {
		return nil
	}
	oerr.statusCode = statusCode
	return &oerr
}

// tokenResponse is the token endpoint's success response.
type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	IssuedTokenType string `json:"issued_token_type"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope"`
}

// Config configures the exchanger.
type Config struct {
	// TokenURL is the identity provider's token endpoint.
	TokenURL string

	// ClientID and ClientSecret authenticate the gateway itself to the
	// token endpoint, via HTTP Basic auth per RFC 6749 Section 2.3.1.
	ClientID     string
	ClientSecret string

	// HTTPClient is used for token endpoint requests. If nil, a client
	// with a 10 second timeout is used.
	HTTPClient *http.Client

	// Cache holds exchanged tokens. Nil disables caching.
	Cache *Cache
}

// Exchanger trades verified gateway tokens for downstream-audience tokens.
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	cache        *Cache
}

// NewExchanger creates an exchanger from config.
func NewExchanger(cfg Config) (*Exchanger, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if _, err := url.Parse(cfg.TokenURL); err != nil {
		return nil, fmt.Errorf("token URL is not a valid URL: %w", err)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultExchangeTimeout}
	}

	return &Exchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   httpClient,
		cache:        cfg.Cache,
	}, nil
}

// Exchange returns a token scoped to the given audience, serving from cache
// when possible. Transient provider failures are retried once.
func (e *Exchanger) Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	if subjectToken == "" {
		return nil, fmt.Errorf("subject token is required")
	}
	if audience == "" {
		return nil, fmt.Errorf("audience is required")
	}

	if e.cache != nil {
		if tok := e.cache.Get(subjectToken, audience); tok != nil {
			return tok, nil
		}
	}

	tok, err := e.exchange(ctx, subjectToken, audience)
	if err != nil && errors.Is(err, ErrProviderUnavailable) && ctx.Err() == nil {
		tok, err = e.exchange(ctx, subjectToken, audience)
	}
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Put(subjectToken, audience, tok)
	}
	return tok, nil
}

// Invalidate drops the cached token for this subject and audience. Called
// when a downstream rejects a token the cache still considers live.
func (e *Exchanger) Invalidate(subjectToken, audience string) {
	if e.cache != nil {
		e.cache.Invalidate(subjectToken, audience)
	}
}

// exchange performs one RFC 8693 request.
func (e *Exchanger) exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	data := url.Values{}
	data.Set("grant_type", grantTypeTokenExchange)
	data.Set("subject_token", subjectToken)
	data.Set("subject_token_type", tokenTypeAccessToken)
	data.Set("requested_token_type", tokenTypeAccessToken)
	data.Set("audience", audience)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if e.clientID != "" && e.clientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(e.clientID), url.QueryEscape(e.clientSecret))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyFailure(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parsing token exchange response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token exchange returned empty access_token")
	}

	tok := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// classifyFailure maps token endpoint failures onto this package's sentinels.
func classifyFailure(statusCode int, body []byte) error {
	if statusCode >= 500 {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrProviderUnavailable, statusCode)
	}

	if oerr := parseOAuthError(statusCode, body); oerr != nil {
		switch oerr.Code {
		case "access_denied":
			return fmt.Errorf("%w: %s", ErrExchangeDenied, oerr)
		case "invalid_grant":
			return fmt.Errorf("%w: %s", ErrSubjectTokenInvalid, oerr)
		default:
			return fmt.Errorf("token exchange failed: %s", oerr)
		}
	}

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: token endpoint returned status %d", ErrExchangeDenied, statusCode)
	}
	return fmt.Errorf("token exchange failed with status %d", statusCode)
}
