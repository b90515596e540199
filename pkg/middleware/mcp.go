package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-gateway/pkg/auth"
	"github.com/txn2/mcp-gateway/pkg/session"
)

// MCP method names used across middleware.
const (
	methodToolsCall = "tools/call"
	methodToolsList = "tools/list"
)

// MCPAuthMiddleware creates MCP protocol-level middleware that enforces
// authentication on tools/* requests and establishes the GatewayContext.
//
// The bearer token itself is verified at the HTTP layer, which places the
// resulting Principal in the request context before the protocol handler
// runs. This middleware enforces that a verified principal is actually
// present. For tools/call requests, it:
//  1. Extracts the tool name from the request
//  2. Creates a GatewayContext carrying request id, session, and user
//  3. Rejects the call with a tool error if no principal is present
//  4. Proceeds with the call otherwise
//
// Rejections are recorded through the audit logger as auth events. The
// logger must be non-nil; use NoopAuditLogger to disable auditing.
func MCPAuthMiddleware(auditLogger AuditLogger) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			switch method {
			case methodToolsList:
				// The list handler needs no per-call context, but it is
				// still gated on a verified principal.
				if auth.GetPrincipal(ctx) == nil {
					return nil, fmt.Errorf("authentication required")
				}
				return next(ctx, method, req)
			case methodToolsCall:
			default:
				return next(ctx, method, req)
			}

			// Extract tool name from request params
			toolName, err := extractToolName(req)
			if err != nil {
				return createErrorResult(fmt.Sprintf("invalid request: %v", err)), nil
			}

			// Create gateway context
			gc := NewGatewayContext(uuid.NewString())
			gc.ToolName = toolName
			if sess := session.FromContext(ctx); sess != nil {
				gc.SessionID = sess.ID
			}

			principal := auth.GetPrincipal(ctx)
			if principal == nil {
				recordAuthFailure(auditLogger, gc, "no verified principal")
				return createErrorResult("authentication required: request carries no verified principal"), nil
			}

			gc.UserID = principal.Subject
			gc.Username = principal.Username
			gc.Roles = principal.Roles
			ctx = WithGatewayContext(ctx, gc)

			// Proceed with the actual tool call
			return next(ctx, method, req)
		}
	}
}

// recordAuthFailure emits an auth audit event asynchronously.
func recordAuthFailure(logger AuditLogger, gc *GatewayContext, reason string) {
	event := AuditEvent{
		Type:         AuditTypeAuth,
		Timestamp:    gc.StartTime,
		RequestID:    gc.RequestID,
		SessionID:    gc.SessionID,
		ToolName:     gc.ToolName,
		Success:      false,
		ErrorMessage: reason,
	}
	go func() {
		_ = logger.Log(context.Background(), event)
	}()
}

// extractToolName extracts the tool name from a tools/call request.
func extractToolName(req mcp.Request) (string, error) {
	params := req.GetParams()
	if params == nil {
		return "", fmt.Errorf("missing params")
	}

	callParams, ok := params.(*mcp.CallToolParamsRaw)
	if !ok {
		return "", fmt.Errorf("unexpected params type: %T", params)
	}

	// Check if the pointer itself is nil (type assertion can succeed with nil pointer)
	if callParams == nil {
		return "", fmt.Errorf("missing params")
	}

	if callParams.Name == "" {
		return "", fmt.Errorf("missing tool name")
	}

	return callParams.Name, nil
}

// createErrorResult creates an MCP result for a rejected tool call.
// This returns an error in the format expected by the MCP protocol.
func createErrorResult(errMsg string) mcp.Result {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: errMsg},
		},
	}
}
