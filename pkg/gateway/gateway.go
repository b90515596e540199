package gateway

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-gateway/pkg/audit"
	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/catalog"
	"github.com/txn2/mcp-gateway/pkg/downstream"
	gatewayhttp "github.com/txn2/mcp-gateway/pkg/http"
	"github.com/txn2/mcp-gateway/pkg/middleware"
	"github.com/txn2/mcp-gateway/pkg/proxy"
	"github.com/txn2/mcp-gateway/pkg/session"
	"github.com/txn2/mcp-gateway/pkg/tokenx"
)

// Gateway is the assembled MCP gateway: one inbound MCP server whose tool
// surface grows as sessions enable downstream servers from the catalog.
type Gateway struct {
	config      *Config
	logger      *slog.Logger
	catalog     *catalog.Catalog
	verifier    gatewayhttp.TokenVerifier
	store       session.Store
	registry    *proxy.Registry
	activator   *proxy.Activator
	dispatcher  *proxy.Dispatcher
	auditLogger audit.Logger
	server      *mcp.Server

	// ownedStore is set when the gateway built its own memory store and is
	// responsible for stopping its cleanup routine.
	ownedStore *session.MemoryStore
	ownedAudit bool
}

// New creates a gateway from the given options. Components not injected
// through options are built from the config.
func New(opts ...Option) (*Gateway, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := options.Config

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: cfg,
		logger: logger,
	}

	// Server catalog.
	if options.Catalog != nil {
		g.catalog = options.Catalog
	} else {
		cat, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("loading catalog: %w", err)
		}
		g.catalog = cat
	}

	// Inbound token verification.
	if options.Verifier != nil {
		g.verifier = options.Verifier
	} else {
		keys := auth.NewKeyCache(cfg.IDP.JWKSURI, cfg.IDP.JWKSRefreshTTL.Std(),
			&http.Client{Timeout: cfg.IDP.Timeout.Std()})
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Issuer:             cfg.IDP.IssuerURL,
			Audience:           cfg.IDP.GatewayAudience,
			AlgorithmAllowlist: cfg.IDP.AlgorithmAllowlist,
			RoleClaimPath:      cfg.IDP.RoleClaimPath,
		}, keys)
		if err != nil {
			return nil, fmt.Errorf("building token verifier: %w", err)
		}
		g.verifier = verifier
	}

	// RFC 8693 token exchange.
	exchanger := options.Exchanger
	if exchanger == nil {
		var cache *tokenx.Cache
		if cfg.Exchange.CacheEnabled {
			cache = tokenx.NewCache(cfg.Exchange.CacheMaxTTL.Std())
		}
		ex, err := tokenx.NewExchanger(tokenx.Config{
			TokenURL:     cfg.IDP.TokenURL,
			ClientID:     cfg.IDP.ClientID,
			ClientSecret: cfg.IDP.ClientSecret,
			HTTPClient:   &http.Client{Timeout: cfg.IDP.Timeout.Std()},
			Cache:        cache,
		})
		if err != nil {
			return nil, fmt.Errorf("building token exchanger: %w", err)
		}
		exchanger = ex
	}

	// Downstream MCP client.
	client := options.DownstreamClient
	if client == nil {
		client = downstream.NewClient(downstream.Config{
			CallTimeout: cfg.Downstream.Timeout.Std(),
			ListTimeout: cfg.Downstream.ListToolsTimeout.Std(),
		})
	}

	// Session store.
	if options.SessionStore != nil {
		g.store = options.SessionStore
	} else {
		store := session.NewMemoryStore(cfg.Session.TTL.Std())
		store.StartCleanupRoutine(cfg.Session.CleanupInterval.Std())
		g.store = store
		g.ownedStore = store
	}

	// Audit logging.
	if options.AuditLogger != nil {
		g.auditLogger = options.AuditLogger
	} else if cfg.Audit.Enabled {
		g.auditLogger = audit.NewSlogLogger(logger)
		g.ownedAudit = true
	}

	// Proxy plane. The gateway itself is the tool binder: newly registered
	// tools are exposed on the MCP server as they are discovered.
	g.registry = proxy.NewRegistry()
	g.activator = proxy.NewActivator(g.catalog, exchanger, client, g.registry, g)
	g.dispatcher = proxy.NewDispatcher(g.catalog, exchanger, client, g.registry)

	g.buildMCPServer()
	return g, nil
}

func (g *Gateway) buildMCPServer() {
	g.server = mcp.NewServer(&mcp.Implementation{
		Name:    g.config.Server.Name,
		Version: g.config.Server.Version,
	}, nil)

	g.registerBuiltinTools()
	g.registerResourceTemplates()

	sink := g.auditSink()

	// Middleware runs last-added-outermost. Auth must be added last so the
	// gateway context it installs is visible to every other layer.
	g.server.AddReceivingMiddleware(middleware.MCPToolOrderMiddleware(g.toolOrder))
	g.server.AddReceivingMiddleware(middleware.MCPLoggingMiddleware(g.logger))
	if g.auditLogger != nil && g.config.Audit.LogToolCalls {
		g.server.AddReceivingMiddleware(middleware.MCPAuditMiddleware(sink))
	}
	g.server.AddReceivingMiddleware(middleware.MCPAuthMiddleware(sink))
}

// auditSink adapts the audit logger for the middleware layer. Auth failures
// are always audited when auditing is on; tool call auditing has its own
// config switch.
func (g *Gateway) auditSink() middleware.AuditLogger {
	if g.auditLogger == nil {
		return &middleware.NoopAuditLogger{}
	}
	return middleware.NewAuditAdapter(g.auditLogger)
}

// toolOrder pins the built-in tools at the top of tools/list; proxied tools
// follow in registration order.
func (g *Gateway) toolOrder() []string {
	names := make([]string, 0, 3+g.registry.Len())
	names = append(names, toolSearchServers, toolEnableServer, toolResetGateway)
	return append(names, g.registry.Names()...)
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Handler returns the complete inbound handler for the MCP endpoint: bearer
// authentication, then session management, then the streamable transport.
// The SDK runs stateless; the session layer owns the Mcp-Session-Id
// lifecycle.
func (g *Gateway) Handler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return g.server },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	sessions := session.NewAwareHandler(streamable, session.HandlerConfig{
		Store: g.store,
		TTL:   g.config.Session.TTL.Std(),
	})
	return gatewayhttp.BearerAuth(g.verifier, g.config.Server.ResourceMetadataURL)(sessions)
}

// ResourceMetadata returns the RFC 9728 document describing this gateway as
// an OAuth protected resource, built from the configured resource metadata
// URL and identity provider. It returns nil when no resource metadata URL is
// configured and there is nothing to advertise.
func (g *Gateway) ResourceMetadata() *gatewayhttp.ProtectedResourceMetadata {
	metadataURL := g.config.Server.ResourceMetadataURL
	if metadataURL == "" {
		return nil
	}
	return &gatewayhttp.ProtectedResourceMetadata{
		Resource:               gatewayhttp.ResourceFromMetadataURL(metadataURL),
		AuthorizationServers:   []string{g.config.IDP.IssuerURL},
		BearerMethodsSupported: []string{"header"},
		JWKSURI:                g.config.IDP.JWKSURI,
	}
}

// Close releases gateway-owned resources.
func (g *Gateway) Close() error {
	if g.ownedStore != nil {
		if err := g.ownedStore.Close(); err != nil {
			return fmt.Errorf("closing session store: %w", err)
		}
	}
	if g.ownedAudit && g.auditLogger != nil {
		if err := g.auditLogger.Close(); err != nil {
			return fmt.Errorf("closing audit logger: %w", err)
		}
	}
	return nil
}
