package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPLoggingMiddleware creates MCP protocol-level middleware that traces tool
// calls through the structured logger at debug level. The permanent record is
// the audit stream; this middleware exists for operational debugging.
//
// It also stamps the call outcome (success, error message, duration) onto the
// GatewayContext so later inspection does not have to re-derive it.
func MCPLoggingMiddleware(logger *slog.Logger) mcp.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			gc := GetGatewayContext(ctx)
			if gc == nil {
				return next(ctx, method, req)
			}

			logger.DebugContext(ctx, "tool call started",
				"request_id", gc.RequestID,
				"session_id", gc.SessionID,
				"user", gc.Username,
				"tool", gc.ToolName,
			)

			start := time.Now()
			result, err := next(ctx, method, req)
			gc.Duration = time.Since(start)

			gc.Success = err == nil
			gc.ErrorMessage = ""
			if err != nil {
				gc.ErrorMessage = err.Error()
			} else if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil && callResult.IsError {
				gc.Success = false
				gc.ErrorMessage = extractMCPErrorMessage(callResult)
			}

			logger.DebugContext(ctx, "tool call finished",
				"request_id", gc.RequestID,
				"tool", gc.ToolName,
				"server", gc.ServerName,
				"success", gc.Success,
				"duration_ms", gc.Duration.Milliseconds(),
			)

			return result, err
		}
	}
}
