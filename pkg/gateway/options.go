package gateway

import (
	"log/slog"

	"github.com/txn2/mcp-gateway/pkg/audit"
	"github.com/txn2/mcp-gateway/pkg/catalog"
	gatewayhttp "github.com/txn2/mcp-gateway/pkg/http"
	"github.com/txn2/mcp-gateway/pkg/proxy"
	"github.com/txn2/mcp-gateway/pkg/session"
)

// Options configures gateway construction. Unset components are built from
// the config; tests and embedders inject their own.
type Options struct {
	Config *Config
	Logger *slog.Logger

	// Catalog overrides loading from Config.Catalog.Path.
	Catalog *catalog.Catalog

	// Verifier overrides the JWKS-backed token verifier.
	Verifier gatewayhttp.TokenVerifier

	// Exchanger overrides the RFC 8693 token exchanger.
	Exchanger proxy.TokenExchanger

	// DownstreamClient overrides the outbound MCP client.
	DownstreamClient proxy.DownstreamClient

	// SessionStore overrides the in-memory session store.
	SessionStore session.Store

	// AuditLogger overrides the slog-backed audit logger.
	AuditLogger audit.Logger
}

// Option is a functional option for configuring the gateway.
type Option func(*Options)

// WithConfig sets the gateway configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithCatalog sets a pre-loaded server catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *Options) { o.Catalog = c }
}

// WithVerifier sets the inbound token verifier.
func WithVerifier(v gatewayhttp.TokenVerifier) Option {
	return func(o *Options) { o.Verifier = v }
}

// WithExchanger sets the token exchanger.
func WithExchanger(e proxy.TokenExchanger) Option {
	return func(o *Options) { o.Exchanger = e }
}

// WithDownstreamClient sets the downstream MCP client.
func WithDownstreamClient(c proxy.DownstreamClient) Option {
	return func(o *Options) { o.DownstreamClient = c }
}

// WithSessionStore sets the session store.
func WithSessionStore(s session.Store) Option {
	return func(o *Options) { o.SessionStore = s }
}

// WithAuditLogger sets the audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *Options) { o.AuditLogger = l }
}
