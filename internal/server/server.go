// Package server runs the gateway's HTTP surface: the MCP endpoint plus
// the health probes, with graceful drain on shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/txn2/mcp-gateway/pkg/gateway"
	"github.com/txn2/mcp-gateway/pkg/health"
	gatewayhttp "github.com/txn2/mcp-gateway/pkg/http"
)

const (
	// readHeaderTimeout bounds how long a client may take to send request
	// headers.
	readHeaderTimeout = 10 * time.Second

	// idleTimeout closes keep-alive connections that go quiet.
	idleTimeout = 120 * time.Second

	// defaultDrainTimeout bounds graceful shutdown.
	defaultDrainTimeout = 10 * time.Second
)

// Config configures the HTTP server around an assembled gateway.
type Config struct {
	// Address is the listen address, e.g. ":8080".
	Address string

	// MCPPath is the path the MCP endpoint is served on, e.g. "/mcp".
	MCPPath string

	// DrainTimeout bounds how long shutdown waits for in-flight requests.
	// Zero selects the default.
	DrainTimeout time.Duration
}

// Server serves an assembled gateway over HTTP. The gateway's lifecycle
// belongs to the caller; the server only owns the listener.
type Server struct {
	config  Config
	logger  *slog.Logger
	gateway *gateway.Gateway
	checker *health.Checker

	mu       sync.Mutex
	listener net.Listener
}

// New creates a server for the given gateway, filling config defaults.
func New(gw *gateway.Gateway, cfg Config, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.MCPPath == "" {
		cfg.MCPPath = "/mcp"
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		logger:  logger,
		gateway: gw,
		checker: health.NewChecker(),
	}
}

// Handler returns the complete HTTP surface: the MCP endpoint at the
// configured path, the RFC 9728 discovery document when a resource metadata
// URL is configured, and the unauthenticated probe endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.MCPPath, s.gateway.Handler())
	if meta := s.gateway.ResourceMetadata(); meta != nil {
		// RFC 9728 appends the resource path to the well-known segment, so
		// suffixed forms of the path must resolve to the same document.
		metadataHandler := gatewayhttp.MetadataHandler(meta)
		mux.Handle(gatewayhttp.WellKnownProtectedResource, metadataHandler)
		mux.Handle(gatewayhttp.WellKnownProtectedResource+"/", metadataHandler)
	}
	mux.HandleFunc("/healthz", s.checker.Liveness())
	mux.HandleFunc("/readyz", s.checker.Readiness())
	return corsMiddleware(mux)
}

// corsMiddleware handles CORS for browser-based MCP clients. Mcp-Session-Id
// must be exposed or the browser cannot read the assigned session and every
// follow-up request fails with a missing-session error.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers",
			"Authorization, Content-Type, Mcp-Session-Id, Mcp-Protocol-Version, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
		h.Set("Access-Control-Allow-Credentials", "true")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Checker exposes the lifecycle state consulted by the probe endpoints.
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// Addr returns the bound listen address, or "" before Run binds it. With a
// ":0" address this is where the kernel actually put the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run binds the listener and serves until ctx is cancelled or the server
// fails. On cancellation, readiness flips to draining before the listener
// closes so load balancers stop routing new sessions here first.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.config.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	// No read or write timeout: tool calls proxy to downstream servers with
	// their own deadlines, and per-request SSE responses must not be cut
	// mid-stream.
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serving: %w", serveErr)
		}
	}()

	s.checker.SetReady()
	s.logger.Info("gateway listening",
		"address", listener.Addr().String(),
		"mcp_path", s.config.MCPPath)

	select {
	case <-ctx.Done():
		return s.drain(httpServer)
	case err := <-errCh:
		s.checker.SetDraining()
		return err
	}
}

// drain performs graceful shutdown: readiness fails immediately, in-flight
// requests get until the drain timeout to finish.
func (s *Server) drain(httpServer *http.Server) error {
	s.checker.SetDraining()
	s.logger.Info("gateway draining", "timeout", s.config.DrainTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DrainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining: %w", err)
	}

	s.logger.Info("gateway stopped")
	return nil
}
