package proxy

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/catalog"
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

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalogYAML))
	require.NoError(t, err)
	return cat
}

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

func discoveredTool(name, description, schema string) *mcp.Tool {
	t := &mcp.Tool{Name: name, Description: description}
	if schema != "" {
		t.InputSchema = json.RawMessage(schema)
	}
	return t
}

func weatherTools() []*mcp.Tool {
	return []*mcp.Tool{
		discoveredTool("get_weather", "Current weather for a city",
			`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
		discoveredTool("get_forecast", "Multi-day forecast for a city",
			`{"type":"object","properties":{"city":{"type":"string"},"days":{"type":"integer"}}}`),
	}
}

// --- Mock TokenExchanger ---

type mockExchanger struct {
	mu          sync.Mutex
	exchanges   int
	invalidated []string

	// exchangeFn overrides the default behavior of minting a token named
	// after the audience.
	exchangeFn func(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error)
}

func (m *mockExchanger) Exchange(ctx context.Context, subjectToken, audience string) (*oauth2.Token, error) {
	m.mu.Lock()
	m.exchanges++
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
	return m.exchanges
}

func (m *mockExchanger) invalidations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

// Verify interface compliance.
var _ TokenExchanger = (*mockExchanger)(nil)

// --- Mock DownstreamClient ---

type mockDownstream struct {
	mu        sync.Mutex
	listCalls int
	callCalls int

	listResult []*mcp.Tool
	listErr    error
	listFn     func(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error)

	callResult *mcp.CallToolResult
	callErr    error
	callFn     func(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error)
}

func (m *mockDownstream) ListTools(ctx context.Context, endpoint, token string) ([]*mcp.Tool, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx, endpoint, token)
	}
	return m.listResult, m.listErr
}

func (m *mockDownstream) CallTool(ctx context.Context, endpoint, token, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	m.mu.Lock()
	m.callCalls++
	m.mu.Unlock()
	if m.callFn != nil {
		return m.callFn(ctx, endpoint, token, name, args)
	}
	return m.callResult, m.callErr
}

func (m *mockDownstream) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *mockDownstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCalls
}

// Verify interface compliance.
var _ DownstreamClient = (*mockDownstream)(nil)

// --- Mock ToolBinder ---

type mockBinder struct {
	mu    sync.Mutex
	bound []*Tool
}

func (m *mockBinder) BindTool(tool *Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound = append(m.bound, tool)
}

func (m *mockBinder) boundNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.bound))
	for _, t := range m.bound {
		names = append(names, t.Name)
	}
	return names
}

// Verify interface compliance.
var _ ToolBinder = (*mockBinder)(nil)

// --- Fixtures ---

type activatorFixture struct {
	catalog   *catalog.Catalog
	exchanger *mockExchanger
	client    *mockDownstream
	registry  *Registry
	binder    *mockBinder
	activator *Activator
}

func newActivatorFixture(t *testing.T) *activatorFixture {
	t.Helper()
	f := &activatorFixture{
		catalog:   testCatalog(t),
		exchanger: &mockExchanger{},
		client:    &mockDownstream{},
		registry:  NewRegistry(),
		binder:    &mockBinder{},
	}
	f.activator = NewActivator(f.catalog, f.exchanger, f.client, f.registry, f.binder)
	return f
}

type dispatcherFixture struct {
	catalog    *catalog.Catalog
	exchanger  *mockExchanger
	client     *mockDownstream
	registry   *Registry
	dispatcher *Dispatcher
}

// newDispatcherFixture builds a dispatcher whose registry already holds the
// weather server's tools.
func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		catalog:   testCatalog(t),
		exchanger: &mockExchanger{},
		client:    &mockDownstream{},
		registry:  NewRegistry(),
	}
	_, err := f.registry.Register("weather", weatherTools())
	require.NoError(t, err)
	f.dispatcher = NewDispatcher(f.catalog, f.exchanger, f.client, f.registry)
	return f
}
