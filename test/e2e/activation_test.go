//go:build integration

package e2e

import (
	"slices"
	"testing"

	"github.com/txn2/mcp-gateway/test/e2e/helpers"
)

// TestServerActivation walks enable_server through its full decision tree
// against live fakes: success, idempotent re-enable, unknown names, the
// local role gate, identity provider denial, and downstream outage.
func TestServerActivation(t *testing.T) {
	cfg := helpers.DefaultE2EConfig()
	ctx, cancel := helpers.TestContext(cfg.Timeout)
	defer cancel()

	idp := helpers.StartIDP(t)
	weather := helpers.StartWeatherServer(t)
	calculator := helpers.StartCalculatorServer(t)
	idp.DenyAudience("tickets-api")

	tg := helpers.StartGateway(t, idp,
		helpers.CatalogServer{
			Name:         "weather",
			Description:  "Weather conditions and forecasts",
			URL:          weather.URL,
			Audience:     weather.Audience,
			RequiredRole: "mcp-weather",
		},
		helpers.CatalogServer{
			Name:         "calculator",
			Description:  "Arithmetic over MCP",
			URL:          calculator.URL,
			Audience:     calculator.Audience,
			RequiredRole: "mcp-calculator",
		},
		helpers.CatalogServer{
			Name:         "tickets",
			Description:  "Issue tracker tools",
			URL:          calculator.URL,
			Audience:     "tickets-api",
			RequiredRole: "mcp-user",
		},
		helpers.CatalogServer{
			Name:         "offline",
			Description:  "A server that is down",
			URL:          helpers.UnreachableURL(t),
			Audience:     "offline-api",
			RequiredRole: "mcp-user",
		},
	)

	token := idp.MintUserToken(t, "alice", "mcp-user", "mcp-weather")
	session := tg.Connect(t, ctx, token)

	t.Run("01_enable_weather", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "weather")
		if !out.Success {
			t.Fatalf("enable failed: %+v", out)
		}
		want := []string{"get_weather", "get_forecast"}
		if !slices.Equal(out.Tools, want) {
			t.Errorf("tools: got %v, want %v", out.Tools, want)
		}
		if out.Message != "Server 'weather' enabled successfully" {
			t.Errorf("message: got %q", out.Message)
		}
	})

	t.Run("02_tools_list_includes_weather", func(t *testing.T) {
		names := helpers.ToolNames(t, ctx, session)
		want := []string{"search_servers", "enable_server", "_reset_gateway", "get_weather", "get_forecast"}
		if !slices.Equal(names, want) {
			t.Fatalf("tools: got %v, want %v", names, want)
		}
	})

	t.Run("03_enable_weather_again", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "weather")
		if !out.Success || out.Message != "Server 'weather' is already enabled" {
			t.Fatalf("re-enable: got %+v", out)
		}
		// The already-enabled path must not hit the identity provider again.
		if got := idp.Exchanges("weather-api"); got != 1 {
			t.Errorf("exchanges after re-enable: got %d, want 1", got)
		}
	})

	t.Run("04_search_reflects_enablement", func(t *testing.T) {
		out := helpers.SearchServers(t, ctx, session, "")
		for _, srv := range out.Servers {
			if srv.Name == "weather" && !srv.Enabled {
				t.Error("weather not reported enabled")
			}
			if srv.Name == "calculator" && srv.Enabled {
				t.Error("calculator reported enabled")
			}
		}
	})

	t.Run("05_unknown_server", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "nonexistent")
		if out.Success || out.Error != "NotFound" {
			t.Fatalf("unknown server: got %+v", out)
		}
		if out.Message != "Server 'nonexistent' not found. Use search_servers to find available servers." {
			t.Errorf("message: got %q", out.Message)
		}
	})

	t.Run("06_missing_role_denied_locally", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "calculator")
		if out.Success || out.Error != "PermissionDenied" {
			t.Fatalf("role gate: got %+v", out)
		}
		if out.Message != "Access denied: user 'alice' lacks role 'mcp-calculator' required for server 'calculator'." {
			t.Errorf("message: got %q", out.Message)
		}
		// The role gate fires before any identity provider traffic.
		if got := idp.Exchanges("calculator-api"); got != 0 {
			t.Errorf("role gate leaked %d exchange requests", got)
		}
	})

	t.Run("07_exchange_denied_by_idp", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "tickets")
		if out.Success || out.Error != "PermissionDenied" {
			t.Fatalf("exchange denial: got %+v", out)
		}
		if out.Message != "Token exchange denied for audience 'tickets-api'. User lacks required access role." {
			t.Errorf("message: got %q", out.Message)
		}
		if got := idp.Exchanges("tickets-api"); got != 1 {
			t.Errorf("exchanges: got %d, want 1", got)
		}
	})

	t.Run("08_downstream_unreachable", func(t *testing.T) {
		out := helpers.EnableServer(t, ctx, session, "offline")
		if out.Success || out.Error != "Upstream" {
			t.Fatalf("offline server: got %+v", out)
		}
		if out.Message != "Server 'offline' is unavailable. Try again shortly." {
			t.Errorf("message: got %q", out.Message)
		}
	})
}

// TestIdentityProviderOutage validates that a 503 from the token endpoint
// surfaces as a retryable upstream failure and that the gateway recovers
// once the provider returns.
func TestIdentityProviderOutage(t *testing.T) {
	cfg := helpers.DefaultE2EConfig()
	ctx, cancel := helpers.TestContext(cfg.Timeout)
	defer cancel()

	idp := helpers.StartIDP(t)
	weather := helpers.StartWeatherServer(t)
	tg := helpers.StartGateway(t, idp, helpers.CatalogServer{
		Name:         "weather",
		Description:  "Weather conditions and forecasts",
		URL:          weather.URL,
		Audience:     weather.Audience,
		RequiredRole: "mcp-weather",
	})

	token := idp.MintUserToken(t, "alice", "mcp-user", "mcp-weather")
	session := tg.Connect(t, ctx, token)

	idp.SetUnavailable(true)
	out := helpers.EnableServer(t, ctx, session, "weather")
	if out.Success || out.Error != "Upstream" {
		t.Fatalf("provider outage: got %+v", out)
	}
	if out.Message != "Identity provider is unavailable. Try again shortly." {
		t.Errorf("message: got %q", out.Message)
	}

	idp.SetUnavailable(false)
	out = helpers.EnableServer(t, ctx, session, "weather")
	if !out.Success {
		t.Fatalf("enable after recovery: got %+v", out)
	}
}
