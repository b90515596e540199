package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/catalog"
	gatewayhttp "github.com/txn2/mcp-gateway/pkg/http"
	"github.com/txn2/mcp-gateway/pkg/middleware"
	"github.com/txn2/mcp-gateway/pkg/proxy"
	"github.com/txn2/mcp-gateway/pkg/session"
)

const testCatalogYAML = `
servers:
  weather:
    description: Weather queries and forecasts
    url: http://weather.internal/mcp
    audience: mcp-weather
    required_role: access:weather
  calculator:
    description: Arithmetic expression evaluation
    url: http://calculator.internal/mcp
    audience: mcp-calculator
    required_role: access:calculator
`

func testPrincipal(roles ...string) *auth.Principal {
	return &auth.Principal{
		Subject:  "f3a1c2d4-user",
		Username: "alice",
		Roles:    roles,
		RawToken: "gateway-access-token",
	}
}

func testSession(id string) *session.Session {
	return session.New(id, "", time.Now(), time.Hour)
}

// toolCtx primes a context the way the HTTP and middleware layers would:
// session, principal, and gateway context installed.
func toolCtx(sess *session.Session, principal *auth.Principal) context.Context {
	ctx := context.Background()
	if sess != nil {
		ctx = session.WithSession(ctx, sess)
	}
	if principal != nil {
		ctx = auth.WithPrincipal(ctx, principal)
	}
	return middleware.WithGatewayContext(ctx, middleware.NewGatewayContext("req-test"))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// decodeToolResult unmarshals a JSON tool result into out.
func decodeToolResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text.Text), out))
}

// resultText returns the first text content of a tool result.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

// --- Stub verifier ---

type stubVerifier struct {
	principal *auth.Principal
	err       error
}

func (s *stubVerifier) Verify(_ context.Context, _ string) (*auth.Principal, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.principal, nil
}

// Verify interface compliance.
var _ gatewayhttp.TokenVerifier = (*stubVerifier)(nil)

// --- Mock exchanger ---

type mockExchanger struct {
	mu          sync.Mutex
	exchanges   []string
	invalidated []string
	exchangeFn  func(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error)
}

func (m *mockExchanger) Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.exchanges = append(m.exchanges, audience)
	m.mu.Unlock()

	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, subjectToken, audience)
	}
	return &oauth2.Token{AccessToken: "token-for-" + audience}, nil
}

func (m *mockExchanger) Invalidate(subjectToken, audience string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, subjectToken+"|"+audience)
}

func (m *mockExchanger) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// Verify interface compliance.
var _ proxy.TokenExchanger = (*mockExchanger)(nil)

// --- Mock downstream client ---

type mockDownstream struct {
	mu        sync.Mutex
	listCalls []string
	callCalls []string
	listFn    func(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error)
	callFn    func(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

func (m *mockDownstream) ListTools(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error) {
	m.mu.Lock()
	m.listCalls = append(m.listCalls, endpoint)
	m.mu.Unlock()

	if m.listFn != nil {
		return m.listFn(ctx, endpoint, token)
	}
	return []*mcp.Tool{
		{Name: "get_weather", Description: "Current weather for a city",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)},
		{Name: "get_forecast", Description: "Multi-day forecast"},
	}, nil
}

func (m *mockDownstream) CallTool(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	m.callCalls = append(m.callCalls, name)
	m.mu.Unlock()

	if m.callFn != nil {
		return m.callFn(ctx, endpoint, token, name, args)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "sunny, 21C"}},
	}, nil
}

func (m *mockDownstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callCalls)
}

// Verify interface compliance.
var _ proxy.DownstreamClient = (*mockDownstream)(nil)

// --- Gateway fixture ---

type gatewayFixture struct {
	gateway   *Gateway
	config    *Config
	exchanger *mockExchanger
	client    *mockDownstream
	store     *session.MemoryStore
}

func newTestGateway(t *testing.T, opts ...Option) *gatewayFixture {
	t.Helper()

	cat, err := catalog.Parse([]byte(testCatalogYAML))
	require.NoError(t, err)

	cfg := &Config{}
	cfg.applyDefaults()

	exchanger := &mockExchanger{}
	client := &mockDownstream{}
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { _ = store.Close() })

	all := append([]Option{
		WithConfig(cfg),
		WithLogger(discardLogger()),
		WithCatalog(cat),
		WithVerifier(&stubVerifier{principal: testPrincipal("access:weather")}),
		WithExchanger(exchanger),
		WithDownstreamClient(client),
		WithSessionStore(store),
	}, opts...)

	g, err := New(all...)
	require.NoError(t, err)

	return &gatewayFixture{
		gateway:   g,
		config:    cfg,
		exchanger: exchanger,
		client:    client,
		store:     store,
	}
}

// enableWeather enables the weather server for the given session, failing
// the test on any error.
func (f *gatewayFixture) enableWeather(t *testing.T, sess *session.Session, principal *auth.Principal) {
	t.Helper()
	result, err := f.gateway.activator.Enable(context.Background(), sess, principal, "weather")
	require.NoError(t, err)
	require.False(t, result.AlreadyEnabled)
}
