//go:build integration

package helpers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-gateway/internal/server"
	"github.com/txn2/mcp-gateway/pkg/gateway"
)

// CatalogServer is one downstream entry in the rendered catalog file.
type CatalogServer struct {
	Name         string
	Description  string
	URL          string
	Audience     string
	RequiredRole string
}

// TestGateway wraps a fully assembled gateway served over HTTP. All
// components are built from configuration, exactly as in production; only
// the identity provider and the downstreams are fakes.
type TestGateway struct {
	Gateway *gateway.Gateway
	IDP     *FakeIDP
	BaseURL string
}

// WriteGatewayConfig renders a gateway config file plus its catalog into a
// temp directory and returns the config path.
func WriteGatewayConfig(t *testing.T, idp *FakeIDP, servers ...CatalogServer) string {
	t.Helper()

	dir := t.TempDir()
	catalogPath := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catalogPath, []byte(renderCatalog(servers)), 0o600); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(renderConfig(idp, catalogPath)), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func renderCatalog(servers []CatalogServer) string {
	var b strings.Builder
	b.WriteString("servers:\n")
	for _, s := range servers {
		fmt.Fprintf(&b, "  %s:\n", s.Name)
		fmt.Fprintf(&b, "    description: %q\n", s.Description)
		fmt.Fprintf(&b, "    url: %q\n", s.URL)
		fmt.Fprintf(&b, "    audience: %q\n", s.Audience)
		fmt.Fprintf(&b, "    required_role: %q\n", s.RequiredRole)
	}
	return b.String()
}

func renderConfig(idp *FakeIDP, catalogPath string) string {
	return fmt.Sprintf(`server:
  name: e2e-gateway
  version: 0.0.1
idp:
  issuer_url: %q
  gateway_audience: %q
  client_id: %q
  client_secret: %q
exchange:
  cache_enabled: true
catalog:
  path: %q
session:
  ttl: 5m
  cleanup_interval: 1m
audit:
  enabled: true
  log_tool_calls: true
logging:
  level: error
  format: text
`, idp.Issuer(), GatewayAudience, GatewayClientID, GatewayClientSecret, catalogPath)
}

// StartGateway builds a gateway from rendered configuration and serves it
// over an httptest server. Everything is torn down when the test finishes.
func StartGateway(t *testing.T, idp *FakeIDP, servers ...CatalogServer) *TestGateway {
	t.Helper()

	configPath := WriteGatewayConfig(t, idp, servers...)
	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := gateway.New(gateway.WithConfig(cfg), gateway.WithLogger(logger))
	if err != nil {
		t.Fatalf("creating gateway: %v", err)
	}
	t.Cleanup(func() {
		if err := gw.Close(); err != nil {
			t.Errorf("closing gateway: %v", err)
		}
	})

	srv := server.New(gw, server.Config{MCPPath: cfg.Server.MCPPath}, logger)
	srv.Checker().SetReady()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &TestGateway{Gateway: gw, IDP: idp, BaseURL: ts.URL}
}

// Endpoint returns the gateway's MCP endpoint URL.
func (tg *TestGateway) Endpoint() string {
	return tg.BaseURL + "/mcp"
}

// Connect opens an MCP client session authenticated with the given bearer
// token. The session is closed when the test finishes.
func (tg *TestGateway) Connect(t *testing.T, ctx context.Context, token string) *mcp.ClientSession {
	t.Helper()

	httpClient := &http.Client{
		Transport: &authRoundTripper{token: token, base: http.DefaultTransport},
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   tg.Endpoint(),
		HTTPClient: httpClient,
	}, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// authRoundTripper injects a bearer token into every request.
type authRoundTripper struct {
	token string
	base  http.RoundTripper
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.token)
	return a.base.RoundTrip(req)
}

// TestContext creates a test context with timeout.
func TestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
