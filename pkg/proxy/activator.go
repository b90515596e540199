package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/catalog"
	"github.com/txn2/mcp-gateway/pkg/session"
	"github.com/txn2/mcp-gateway/pkg/tokenx"
)

// TokenExchanger trades a caller's gateway token for a downstream-audience
// token. Implemented by tokenx.Exchanger.
type TokenExchanger interface {
	Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error)
	Invalidate(subjectToken, audience string)
}

// DownstreamClient relays MCP traffic to downstream servers. Implemented by
// downstream.Client.
type DownstreamClient interface {
	ListTools(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

// ToolBinder exposes newly registered tools on the gateway's MCP server.
// Binding is global and permanent for the process lifetime; per-session
// availability is enforced at dispatch.
type ToolBinder interface {
	BindTool(tool *Tool)
}

// EnableResult reports the outcome of a server activation.
type EnableResult struct {
	// Server is the catalog entry that was activated.
	Server *catalog.Server

	// Tools are the tool names discovered on the server, in discovery order.
	Tools []string

	// AlreadyEnabled is true when the session had the server enabled before
	// this call; Tools then holds the list recorded at original enable time.
	AlreadyEnabled bool
}

// Activator runs the server enablement flow: resolve the catalog entry,
// check the caller's role, exchange the token, discover the downstream's
// tools, register and bind them globally, and record the enablement on the
// session. A failure at any step leaves no session or registry state.
type Activator struct {
	catalog   *catalog.Catalog
	exchanger TokenExchanger
	client    DownstreamClient
	registry  *Registry
	binder    ToolBinder

	// group collapses concurrent enables of the same server in the same
	// session into one discovery round trip.
	group singleflight.Group
}

// NewActivator creates an activator over the given collaborators. The binder
// may be nil, in which case registered tools are not exposed anywhere.
func NewActivator(cat *catalog.Catalog, exchanger TokenExchanger, client DownstreamClient, registry *Registry, binder ToolBinder) *Activator {
	return &Activator{
		catalog:   cat,
		exchanger: exchanger,
		client:    client,
		registry:  registry,
		binder:    binder,
	}
}

// Enable activates the named server for the session. Enabling an already
// enabled server is idempotent and reports the originally recorded tools.
//
// Failures are typed: ErrServerNotFound for unknown names, RoleError when
// the caller lacks the catalog role, DeniedError when the identity provider
// refuses the exchange, ErrToolCollision when a discovered tool name is
// owned by another server.
func (a *Activator) Enable(ctx context.Context, sess *session.Session, principal *auth.Principal, serverName string) (*EnableResult, error) {
	srv, ok := a.catalog.Get(serverName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, serverName)
	}

	if sess.ServerEnabled(serverName) {
		return &EnableResult{
			Server:         srv,
			Tools:          sess.EnabledTools(serverName),
			AlreadyEnabled: true,
		}, nil
	}

	// Role gate before any identity provider traffic, so an unauthorized
	// caller never triggers an exchange.
	if !principal.HasRole(srv.RequiredRole) {
		return nil, &RoleError{
			User:   principal.Username,
			Role:   srv.RequiredRole,
			Server: serverName,
		}
	}

	key := sess.ID + "\x00" + serverName
	v, err, _ := a.group.Do(key, func() (any, error) {
		// A concurrent caller may have completed the enable while this
		// one waited on the flight.
		if sess.ServerEnabled(serverName) {
			return &EnableResult{
				Server:         srv,
				Tools:          sess.EnabledTools(serverName),
				AlreadyEnabled: true,
			}, nil
		}
		return a.activate(ctx, sess, principal, srv)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnableResult), nil
}

// activate performs the exchange, discovery, registration, and session
// recording for one server. Called under the singleflight group.
func (a *Activator) activate(ctx context.Context, sess *session.Session, principal *auth.Principal, srv *catalog.Server) (*EnableResult, error) {
	tok, err := a.exchanger.Exchange(ctx, principal.RawToken, srv.Audience)
	if err != nil {
		if errors.Is(err, tokenx.ErrExchangeDenied) {
			return nil, &DeniedError{Audience: srv.Audience, Err: err}
		}
		return nil, fmt.Errorf("token exchange for server %q: %w", srv.Name, err)
	}

	discovered, err := a.client.ListTools(ctx, srv.URL, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("discovering tools on server %q: %w", srv.Name, err)
	}

	added, err := a.registry.Register(srv.Name, discovered)
	if err != nil {
		return nil, err
	}
	if a.binder != nil {
		for _, t := range added {
			a.binder.BindTool(t)
		}
	}

	names := make([]string, 0, len(discovered))
	for _, t := range discovered {
		names = append(names, t.Name)
	}
	sess.EnableServer(srv.Name, names)

	return &EnableResult{Server: srv, Tools: names}, nil
}

// ServerView is one row of a server search result.
type ServerView struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Enabled      bool   `json:"enabled"`
	RequiredRole string `json:"required_role"`
}

// Search returns catalog servers matching the query, flagged with whether
// the session has each one enabled. The full catalog is visible to every
// caller; roles are enforced at enable time, not here.
func (a *Activator) Search(sess *session.Session, query string) []ServerView {
	matches := a.catalog.Search(query)
	out := make([]ServerView, 0, len(matches))
	for _, srv := range matches {
		out = append(out, ServerView{
			Name:         srv.Name,
			Description:  srv.Description,
			Enabled:      sess != nil && sess.ServerEnabled(srv.Name),
			RequiredRole: srv.RequiredRole,
		})
	}
	return out
}
