package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPAuditMiddleware creates MCP protocol-level middleware that logs tool calls
// for auditing purposes.
//
// This middleware intercepts tools/call requests and:
//  1. Records the start time
//  2. Executes the tool handler
//  3. Gets the GatewayContext (set by MCPAuthMiddleware)
//  4. Builds an audit event with all captured information
//  5. Logs asynchronously (non-blocking) to avoid impacting response time
func MCPAuditMiddleware(logger AuditLogger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			// Only audit tools/call requests
			if method != methodToolsCall {
				return next(ctx, method, req)
			}

			startTime := time.Now()

			// Execute handler
			result, err := next(ctx, method, req)

			duration := time.Since(startTime)

			// Get gateway context (set by MCPAuthMiddleware)
			gc := GetGatewayContext(ctx)
			if gc == nil {
				// No gateway context means the auth middleware did not run;
				// rejected calls are audited there.
				return result, err
			}

			// Build audit event
			event := buildMCPAuditEvent(gc, req, result, err, startTime, duration)

			// Log asynchronously to not block the response
			go func() {
				_ = logger.Log(context.Background(), event)
			}()

			return result, err
		}
	}
}

// buildMCPAuditEvent builds an audit event from the MCP request and response.
func buildMCPAuditEvent(
	gc *GatewayContext,
	req mcp.Request,
	result mcp.Result,
	err error,
	startTime time.Time,
	duration time.Duration,
) AuditEvent {
	// Determine success
	success := err == nil
	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
	} else if callResult, ok := result.(*mcp.CallToolResult); ok && callResult != nil && callResult.IsError {
		success = false
		errorMsg = extractMCPErrorMessage(callResult)
	}

	// Extract parameters from request
	params := extractMCPParameters(req)

	return AuditEvent{
		Type:         AuditTypeToolCall,
		Timestamp:    startTime,
		RequestID:    gc.RequestID,
		SessionID:    gc.SessionID,
		UserID:       gc.UserID,
		Username:     gc.Username,
		ToolName:     gc.ToolName,
		ServerName:   gc.ServerName,
		Parameters:   params,
		Success:      success,
		ErrorMessage: errorMsg,
		DurationMS:   duration.Milliseconds(),
	}
}

// extractMCPParameters extracts parameters from an MCP request.
func extractMCPParameters(req mcp.Request) map[string]any {
	if req == nil {
		return nil
	}
	params := req.GetParams()
	if params == nil {
		return nil
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok || callParams == nil {
		return nil
	}

	return extractArgumentsMap(callParams)
}

// extractArgumentsMap decodes raw tool call arguments into a map.
// Returns nil when there are no arguments or they are not a JSON object.
func extractArgumentsMap(params *mcp.CallToolParamsRaw) map[string]any {
	if len(params.Arguments) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		return nil
	}
	return args
}

// extractMCPErrorMessage extracts the error message from an MCP CallToolResult.
func extractMCPErrorMessage(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	if textContent, ok := result.Content[0].(*mcp.TextContent); ok {
		return textContent.Text
	}
	return ""
}
