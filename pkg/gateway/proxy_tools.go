package gateway

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/downstream"
	"github.com/txn2/mcp-gateway/pkg/middleware"
	"github.com/txn2/mcp-gateway/pkg/proxy"
	"github.com/txn2/mcp-gateway/pkg/session"
	"github.com/txn2/mcp-gateway/pkg/tokenx"
)

// BindTool exposes a registered proxy tool on the inbound MCP server. The
// SDK validates call arguments against the carried schema before the
// handler runs, so schema enforcement matches what the downstream server
// published.
func (g *Gateway) BindTool(tool *proxy.Tool) {
	g.server.AddTool(&mcp.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: tool.InputSchema,
	}, g.proxyHandler(tool))
}

// proxyHandler builds the uniform dispatch handler for a proxied tool.
// Tools are bound once per process; per-session enablement is checked on
// every call by the dispatcher.
func (g *Gateway) proxyHandler(tool *proxy.Tool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if gc := middleware.GetGatewayContext(ctx); gc != nil {
			gc.ServerName = tool.Server
		}

		sess := session.FromContext(ctx)
		principal := auth.GetPrincipal(ctx)
		if principal == nil {
			return errorToolResult("No authenticated principal"), nil
		}

		result, err := g.dispatcher.Dispatch(ctx, sess, principal, tool.Name, req.Params.Arguments)
		if err != nil {
			g.logger.WarnContext(ctx, "proxied tool call failed",
				"tool", tool.Name,
				"server", tool.Server,
				"error", err)
			return dispatchErrorResult(tool, err), nil
		}
		return result, nil
	}
}

// dispatchErrorResult maps a dispatch error to the MCP tool error returned
// to the caller. Internal details stay in the log.
func dispatchErrorResult(tool *proxy.Tool, err error) *mcp.CallToolResult {
	var denied *proxy.DeniedError
	switch {
	case errors.Is(err, proxy.ErrNotEnabled):
		return errorToolResult("Server '%s' is not enabled in this session. Call enable_server('%s') first.",
			tool.Server, tool.Server)
	case errors.As(err, &denied):
		return errorToolResult("Token exchange denied for audience '%s'. User lacks required access role.",
			denied.Audience)
	case errors.Is(err, downstream.ErrRejected):
		return errorToolResult("Server '%s' rejected the gateway's credentials.", tool.Server)
	case errors.Is(err, downstream.ErrUnavailable):
		return errorToolResult("Server '%s' is unavailable. Try again shortly.", tool.Server)
	case errors.Is(err, tokenx.ErrProviderUnavailable):
		return errorToolResult("Identity provider is unavailable. Try again shortly.")
	default:
		return errorToolResult("Tool call failed due to an internal error.")
	}
}
