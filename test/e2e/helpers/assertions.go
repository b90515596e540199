//go:build integration

package helpers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerEntry mirrors one server in search_servers output.
type ServerEntry struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Enabled      bool   `json:"enabled"`
	RequiredRole string `json:"required_role"`
}

// SearchServersResult mirrors the search_servers tool output.
type SearchServersResult struct {
	Servers []ServerEntry `json:"servers"`
	Total   int           `json:"total"`
}

// EnableServerResult mirrors the enable_server tool output.
type EnableServerResult struct {
	Success bool     `json:"success"`
	Tools   []string `json:"tools,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ResetGatewayResult mirrors the _reset_gateway tool output.
type ResetGatewayResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CallTool invokes a tool and fails the test on transport errors. Results
// carrying IsError are returned to the caller for inspection.
func CallTool(t *testing.T, ctx context.Context, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("calling %s: %v", name, err)
	}
	if result == nil {
		t.Fatalf("calling %s: nil result", name)
	}
	return result
}

// TextContent returns the first text content of a tool result.
func TextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()

	if result == nil || len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", result.Content[0])
	}
	return text.Text
}

// UnmarshalResult decodes the first text content of a tool result into v.
func UnmarshalResult(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()

	if err := json.Unmarshal([]byte(TextContent(t, result)), v); err != nil {
		t.Fatalf("decoding tool output: %v", err)
	}
}

// SearchServers runs the search_servers tool and decodes its output.
func SearchServers(t *testing.T, ctx context.Context, session *mcp.ClientSession, query string) SearchServersResult {
	t.Helper()

	args := map[string]any{}
	if query != "" {
		args["query"] = query
	}
	result := CallTool(t, ctx, session, "search_servers", args)
	if result.IsError {
		t.Fatalf("search_servers failed: %s", TextContent(t, result))
	}
	var out SearchServersResult
	UnmarshalResult(t, result, &out)
	return out
}

// EnableServer runs the enable_server tool and decodes its output. Both
// success and failure outputs decode; callers assert on the fields.
func EnableServer(t *testing.T, ctx context.Context, session *mcp.ClientSession, name string) EnableServerResult {
	t.Helper()

	result := CallTool(t, ctx, session, "enable_server", map[string]any{"server_name": name})
	var out EnableServerResult
	UnmarshalResult(t, result, &out)
	return out
}

// ResetGateway runs the _reset_gateway tool and decodes its output.
func ResetGateway(t *testing.T, ctx context.Context, session *mcp.ClientSession) ResetGatewayResult {
	t.Helper()

	result := CallTool(t, ctx, session, "_reset_gateway", map[string]any{})
	var out ResetGatewayResult
	UnmarshalResult(t, result, &out)
	return out
}

// ToolNames lists the tools advertised to the session, in server order.
func ToolNames(t *testing.T, ctx context.Context, session *mcp.ClientSession) []string {
	t.Helper()

	result, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("listing tools: %v", err)
	}
	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	return names
}
