package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/downstream"
	"github.com/txn2/mcp-gateway/pkg/middleware"
	"github.com/txn2/mcp-gateway/pkg/proxy"
	"github.com/txn2/mcp-gateway/pkg/session"
	"github.com/txn2/mcp-gateway/pkg/tokenx"
)

// Built-in tool names. These are always present in tools/list, ahead of any
// proxied tools.
const (
	toolSearchServers = "search_servers"
	toolEnableServer  = "enable_server"
	toolResetGateway  = "_reset_gateway"
)

// Error kinds surfaced in structured tool output.
const (
	errKindNotFound         = "NotFound"
	errKindPermissionDenied = "PermissionDenied"
	errKindConflict         = "Conflict"
	errKindUnauthenticated  = "Unauthenticated"
	errKindUpstream         = "Upstream"
	errKindInternal         = "Internal"
)

// searchServersInput is the input for the search_servers tool.
type searchServersInput struct {
	Query string `json:"query,omitempty"`
}

// searchServersOutput is the JSON response for the search_servers tool.
type searchServersOutput struct {
	Servers []proxy.ServerView `json:"servers"`
	Total   int                `json:"total"`
}

// enableServerInput is the input for the enable_server tool.
type enableServerInput struct {
	ServerName string `json:"server_name"`
}

// enableServerOutput is the JSON response for the enable_server tool.
type enableServerOutput struct {
	Success bool     `json:"success"`
	Tools   []string `json:"tools,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

// resetGatewayInput is empty since this tool has no parameters.
type resetGatewayInput struct{}

// resetGatewayOutput is the JSON response for the _reset_gateway tool.
type resetGatewayOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// registerBuiltinTools registers the gateway's own tools with the MCP
// server.
func (g *Gateway) registerBuiltinTools() {
	mcp.AddTool(g.server, &mcp.Tool{
		Name: toolSearchServers,
		Description: "Search the catalog of downstream MCP servers by name or description. " +
			"An empty query lists every server. Results include servers your roles may not allow you to enable.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, g.handleSearchServers)

	mcp.AddTool(g.server, &mcp.Tool{
		Name: toolEnableServer,
		Description: "Enable a downstream MCP server for this session. Discovers the server's tools " +
			"and makes them callable; requires the access role configured for the server.",
	}, g.handleEnableServer)

	mcp.AddTool(g.server, &mcp.Tool{
		Name:        toolResetGateway,
		Description: "Reset this session's gateway state, disabling all previously enabled servers. Intended for testing.",
	}, g.handleResetGateway)
}

// handleSearchServers handles the search_servers tool call.
func (g *Gateway) handleSearchServers(ctx context.Context, _ *mcp.CallToolRequest, input searchServersInput) (*mcp.CallToolResult, any, error) {
	sess := session.FromContext(ctx)
	views := g.activator.Search(sess, input.Query)

	return jsonToolResult(searchServersOutput{
		Servers: views,
		Total:   len(views),
	})
}

// handleEnableServer handles the enable_server tool call. Failures are
// reported in the structured output rather than as MCP tool errors, so
// agents can branch on the error kind.
func (g *Gateway) handleEnableServer(ctx context.Context, _ *mcp.CallToolRequest, input enableServerInput) (*mcp.CallToolResult, any, error) {
	if gc := middleware.GetGatewayContext(ctx); gc != nil {
		gc.ServerName = input.ServerName
	}

	sess := session.FromContext(ctx)
	principal := auth.GetPrincipal(ctx)
	if sess == nil || principal == nil {
		return errorToolResult("No active session"), nil, nil
	}

	result, err := g.activator.Enable(ctx, sess, principal, input.ServerName)
	if err != nil {
		out := enableFailure(input.ServerName, err)
		if out.Error == errKindInternal {
			g.logger.ErrorContext(ctx, "enable_server failed",
				"server", input.ServerName,
				"error", err)
		}
		return jsonToolResult(out)
	}

	message := fmt.Sprintf("Server '%s' enabled successfully", input.ServerName)
	if result.AlreadyEnabled {
		message = fmt.Sprintf("Server '%s' is already enabled", input.ServerName)
	}
	return jsonToolResult(enableServerOutput{
		Success: true,
		Tools:   result.Tools,
		Message: message,
	})
}

// handleResetGateway handles the _reset_gateway tool call.
func (g *Gateway) handleResetGateway(ctx context.Context, _ *mcp.CallToolRequest, _ resetGatewayInput) (*mcp.CallToolResult, any, error) {
	if sess := session.FromContext(ctx); sess != nil {
		sess.Reset()
	}

	return jsonToolResult(resetGatewayOutput{
		Success: true,
		Message: "Gateway state reset",
	})
}

// enableFailure maps an activation error to structured tool output.
// Internal details never reach the caller; the handler logs them instead.
func enableFailure(serverName string, err error) enableServerOutput {
	var roleErr *proxy.RoleError
	var denied *proxy.DeniedError

	out := enableServerOutput{Success: false}
	switch {
	case errors.Is(err, proxy.ErrServerNotFound):
		out.Error = errKindNotFound
		out.Message = fmt.Sprintf("Server '%s' not found. Use search_servers to find available servers.", serverName)
	case errors.As(err, &roleErr):
		out.Error = errKindPermissionDenied
		out.Message = fmt.Sprintf("Access denied: user '%s' lacks role '%s' required for server '%s'.",
			roleErr.User, roleErr.Role, roleErr.Server)
	case errors.As(err, &denied):
		out.Error = errKindPermissionDenied
		out.Message = fmt.Sprintf("Token exchange denied for audience '%s'. User lacks required access role.",
			denied.Audience)
	case errors.Is(err, proxy.ErrToolCollision):
		out.Error = errKindConflict
		out.Message = fmt.Sprintf("Cannot enable server '%s': %v", serverName, err)
	case errors.Is(err, tokenx.ErrProviderUnavailable):
		out.Error = errKindUpstream
		out.Message = "Identity provider is unavailable. Try again shortly."
	case errors.Is(err, downstream.ErrUnavailable):
		out.Error = errKindUpstream
		out.Message = fmt.Sprintf("Server '%s' is unavailable. Try again shortly.", serverName)
	case errors.Is(err, downstream.ErrRejected):
		out.Error = errKindUnauthenticated
		out.Message = fmt.Sprintf("Server '%s' rejected the gateway's credentials.", serverName)
	default:
		out.Error = errKindInternal
		out.Message = fmt.Sprintf("Could not enable server '%s' due to an internal error.", serverName)
	}
	return out
}

// jsonToolResult marshals v as indented JSON tool output.
func jsonToolResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{ //nolint:nilerr // MCP protocol: tool errors are returned in CallToolResult.IsError, not as Go errors
			Content: []mcp.Content{
				&mcp.TextContent{Text: "Error: " + err.Error()},
			},
			IsError: true,
		}, nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

// errorToolResult returns a formatted MCP tool error.
func errorToolResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
		IsError: true,
	}
}
