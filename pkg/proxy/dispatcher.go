package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/oauth2"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/catalog"
	"github.com/txn2/mcp-gateway/pkg/downstream"
	"github.com/txn2/mcp-gateway/pkg/session"
	"github.com/txn2/mcp-gateway/pkg/tokenx"
)

// Dispatcher routes proxied tool calls to their owning downstream server,
// exchanging the caller's token per call and retrying exactly once when a
// downstream rejects a cached token.
type Dispatcher struct {
	catalog   *catalog.Catalog
	exchanger TokenExchanger
	client    DownstreamClient
	registry  *Registry
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(cat *catalog.Catalog, exchanger TokenExchanger, client DownstreamClient, registry *Registry) *Dispatcher {
	return &Dispatcher{
		catalog:   cat,
		exchanger: exchanger,
		client:    client,
		registry:  registry,
	}
}

// Dispatch invokes the named proxied tool on behalf of the caller. The
// downstream result passes through verbatim, including downstream
// tool-errors, so clients see exactly what the owning server produced.
//
// ErrNotEnabled is returned when the session has not enabled the owning
// server. DeniedError is returned when the identity provider refuses the
// exchange. Downstream transport failures keep their downstream package
// sentinels for the caller to classify.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, principal *auth.Principal, toolName string, args json.RawMessage) (*mcp.CallToolResult, error) {
	tool, ok := d.registry.Lookup(toolName)
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", toolName)
	}

	// Tools are registered globally but callable only from sessions that
	// enabled the owning server.
	if sess == nil || !sess.ServerEnabled(tool.Server) {
		return nil, fmt.Errorf("%w: server %q for tool %q", ErrNotEnabled, tool.Server, toolName)
	}

	srv, ok := d.catalog.Get(tool.Server)
	if !ok {
		return nil, fmt.Errorf("server %q for tool %q is not in the catalog", tool.Server, toolName)
	}

	tok, err := d.exchange(ctx, principal, srv)
	if err != nil {
		return nil, err
	}

	result, err := d.client.CallTool(ctx, srv.URL, tok.AccessToken, tool.Name, args)
	if err != nil && errors.Is(err, downstream.ErrRejected) {
		// The downstream refused a token the cache still considered live.
		// Drop it, exchange fresh, and retry exactly once.
		d.exchanger.Invalidate(principal.RawToken, srv.Audience)
		tok, err = d.exchange(ctx, principal, srv)
		if err != nil {
			return nil, err
		}
		result, err = d.client.CallTool(ctx, srv.URL, tok.AccessToken, tool.Name, args)
	}
	if err != nil {
		return nil, fmt.Errorf("calling tool %q on server %q: %w", tool.Name, srv.Name, err)
	}
	return result, nil
}

func (d *Dispatcher) exchange(ctx context.Context, principal *auth.Principal, srv *catalog.Server) (*oauth2.Token, error) {
	tok, err := d.exchanger.Exchange(ctx, principal.RawToken, srv.Audience)
	if err != nil {
		if errors.Is(err, tokenx.ErrExchangeDenied) {
			return nil, &DeniedError{Audience: srv.Audience, Err: err}
		}
		return nil, fmt.Errorf("token exchange for server %q: %w", srv.Name, err)
	}
	return tok, nil
}
