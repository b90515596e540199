//go:build integration

package helpers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FakeServer is an in-process downstream MCP server behind bearer token
// authentication. It accepts only exchanged tokens minted for its audience
// and can be scripted to reject requests for retry scenarios.
type FakeServer struct {
	Audience string
	URL      string

	ts *httptest.Server

	toolCalls  atomic.Int64
	rejectNext atomic.Int64
	rejectAll  atomic.Bool

	mu     sync.Mutex
	tokens []string
}

// StartWeatherServer starts a downstream server exposing get_weather and
// get_forecast under the weather-api audience.
func StartWeatherServer(t *testing.T) *FakeServer {
	t.Helper()

	f := &FakeServer{Audience: "weather-api"}
	srv := mcp.NewServer(&mcp.Implementation{Name: "weather", Version: "v1"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_weather",
		Description: "Current weather for a city.",
	}, f.handleWeather)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_forecast",
		Description: "Multi-day forecast for a city.",
	}, f.handleForecast)
	f.start(t, srv)
	return f
}

// StartCalculatorServer starts a downstream server exposing add under the
// calculator-api audience.
func StartCalculatorServer(t *testing.T) *FakeServer {
	t.Helper()

	f := &FakeServer{Audience: "calculator-api"}
	srv := mcp.NewServer(&mcp.Implementation{Name: "calculator", Version: "v1"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add",
		Description: "Add two numbers.",
	}, f.handleAdd)
	f.start(t, srv)
	return f
}

func (f *FakeServer) start(t *testing.T, srv *mcp.Server) {
	t.Helper()

	handler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return srv },
		&mcp.StreamableHTTPOptions{Stateless: true},
	)
	f.ts = httptest.NewServer(f.authenticate(handler))
	f.URL = f.ts.URL
	t.Cleanup(f.ts.Close)
}

// authenticate verifies the bearer token before admitting MCP traffic.
// Every presented token is recorded so tests can assert what reached the
// downstream.
func (f *FakeServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		f.mu.Unlock()

		if f.rejectAll.Load() {
			http.Error(w, "token rejected", http.StatusUnauthorized)
			return
		}
		if n := f.rejectNext.Load(); n > 0 && f.rejectNext.CompareAndSwap(n, n-1) {
			http.Error(w, "token rejected", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(token, "exchanged:"+f.Audience+":") {
			http.Error(w, "token audience mismatch", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RejectNext makes the server answer 401 to the next n HTTP requests.
func (f *FakeServer) RejectNext(n int64) {
	f.rejectNext.Store(n)
}

// RejectAll makes the server answer 401 to every request until cleared.
func (f *FakeServer) RejectAll(v bool) {
	f.rejectAll.Store(v)
}

// ToolCalls returns how many tool invocations the server has executed.
func (f *FakeServer) ToolCalls() int64 {
	return f.toolCalls.Load()
}

// Tokens returns a copy of every bearer token presented to the server.
func (f *FakeServer) Tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// UnreachableURL returns a URL whose port was just closed, so connections
// to it are refused.
func UnreachableURL(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	url := "http://" + l.Addr().String()
	_ = l.Close()
	return url
}

type weatherInput struct {
	City string `json:"city"`
}

type forecastInput struct {
	City string `json:"city"`
	Days int    `json:"days,omitempty"`
}

type addInput struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (f *FakeServer) handleWeather(_ context.Context, _ *mcp.CallToolRequest, input weatherInput) (*mcp.CallToolResult, any, error) {
	f.toolCalls.Add(1)
	if input.City == "Atlantis" {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "unknown city: Atlantis"}},
			IsError: true,
		}, nil, nil
	}
	return textResult(fmt.Sprintf("sunny, 21C in %s", input.City)), nil, nil
}

func (f *FakeServer) handleForecast(_ context.Context, _ *mcp.CallToolRequest, input forecastInput) (*mcp.CallToolResult, any, error) {
	f.toolCalls.Add(1)
	days := input.Days
	if days <= 0 {
		days = 3
	}
	return textResult(fmt.Sprintf("%d-day forecast for %s: sunny", days, input.City)), nil, nil
}

func (f *FakeServer) handleAdd(_ context.Context, _ *mcp.CallToolRequest, input addInput) (*mcp.CallToolResult, any, error) {
	f.toolCalls.Add(1)
	return textResult(strconv.FormatFloat(input.A+input.B, 'f', -1, 64)), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
