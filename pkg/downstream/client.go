// Package downstream dials catalog MCP servers over Streamable HTTP and
// relays tool traffic to them using per-user exchanged tokens.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultListTimeout = 60 * time.Second

	clientName    = "mcp-gateway"
	clientVersion = "v1"
)

// Config tunes the downstream client.
type Config struct {
	// CallTimeout bounds a single tools/call round trip, connect included.
	CallTimeout time.Duration

	// ListTimeout bounds connect plus tools/list during server enablement.
	ListTimeout time.Duration

	// Transport is the base RoundTripper for downstream requests. Defaults
	// to http.DefaultTransport.
	Transport http.RoundTripper
}

// Client talks to downstream MCP servers. Every operation dials a fresh
// session carrying the caller's exchanged token; sessions are not pooled
// because tokens are per-user and short-lived.
type Client struct {
	callTimeout time.Duration
	listTimeout time.Duration
	base        http.RoundTripper
}

// NewClient creates a downstream client, applying defaults for any zero
// config fields.
func NewClient(cfg Config) *Client {
	c := &Client{
		callTimeout: cfg.CallTimeout,
		listTimeout: cfg.ListTimeout,
		base:        cfg.Transport,
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	if c.listTimeout <= 0 {
		c.listTimeout = defaultListTimeout
	}
	if c.base == nil {
		c.base = http.DefaultTransport
	}
	return c
}

// ListTools connects to the MCP server at endpoint and returns its
// advertised tools.
func (c *Client) ListTools(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	session, bt, err := c.connect(ctx, endpoint, token)
	if err != nil {
		return nil, classify(bt, fmt.Errorf("connect %s: %w", endpoint, err))
	}
	defer func() { _ = session.Close() }()

	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, classify(bt, fmt.Errorf("list tools on %s: %w", endpoint, err))
	}
	return result.Tools, nil
}

// CallTool invokes the named tool on the MCP server at endpoint. Tool
// results carrying IsError are returned as results, not errors, so callers
// can relay them verbatim.
func (c *Client) CallTool(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	session, bt, err := c.connect(ctx, endpoint, token)
	if err != nil {
		return nil, classify(bt, fmt.Errorf("connect %s: %w", endpoint, err))
	}
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, classify(bt, fmt.Errorf("call %s on %s: %w", name, endpoint, err))
	}
	return result, nil
}

func (c *Client) connect(ctx context.Context, endpoint, token string) (*mcp.ClientSession, *bearerTransport, error) {
	bt := &bearerTransport{token: token, base: c.base}
	transport := &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: bt},
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, bt, err
	}
	return session, bt, nil
}

// classify folds transport failures into the package error vocabulary. A
// 401 or 403 observed on the wire means the downstream refused the token;
// everything else is an availability problem.
func classify(bt *bearerTransport, err error) error {
	if bt != nil && bt.rejected.Load() {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// bearerTransport injects the exchanged token into each request and
// records whether the downstream answered 401 or 403.
type bearerTransport struct {
	token    string
	base     http.RoundTripper
	rejected atomic.Bool
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	resp, err := t.base.RoundTrip(req)
	if err == nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		t.rejected.Store(true)
	}
	return resp, err
}
