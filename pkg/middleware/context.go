// Package middleware provides MCP protocol-level middleware for the gateway:
// request context establishment, authentication enforcement, audit logging,
// and tools/list ordering.
package middleware

import (
	"context"
	"time"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	gatewayContextKey contextKey = iota
)

// GatewayContext holds request-scoped gateway state for a single tool call.
// It is created by MCPAuthMiddleware and read by the audit and logging
// middlewares further down the chain.
type GatewayContext struct {
	// Request identification
	RequestID string
	SessionID string
	StartTime time.Time

	// User information
	UserID   string
	Username string
	Roles    []string

	// Tool information
	ToolName   string
	ServerName string

	// Results (populated after handler)
	Success      bool
	ErrorMessage string
	Duration     time.Duration
}

// NewGatewayContext creates a new gateway context.
func NewGatewayContext(requestID string) *GatewayContext {
	return &GatewayContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// WithGatewayContext adds gateway context to the context.
func WithGatewayContext(ctx context.Context, gc *GatewayContext) context.Context {
	return context.WithValue(ctx, gatewayContextKey, gc)
}

// GetGatewayContext retrieves gateway context from the context.
func GetGatewayContext(ctx context.Context) *GatewayContext {
	if gc, ok := ctx.Value(gatewayContextKey).(*GatewayContext); ok {
		return gc
	}
	return nil
}

// MustGetGatewayContext retrieves gateway context or panics.
func MustGetGatewayContext(ctx context.Context) *GatewayContext {
	gc := GetGatewayContext(ctx)
	if gc == nil {
		panic("gateway context not found in context")
	}
	return gc
}
