package middleware

import (
	"context"
	"time"
)

// Audit event types.
const (
	AuditTypeToolCall = "tool_call"
	AuditTypeAuth     = "auth"
)

// AuditLogger logs gateway events for auditing.
type AuditLogger interface {
	// Log records an audit event.
	Log(ctx context.Context, event AuditEvent) error
}

// AuditEvent represents an auditable event.
type AuditEvent struct {
	Type         string         `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	RequestID    string         `json:"request_id"`
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Username     string         `json:"username"`
	ToolName     string         `json:"tool_name"`
	ServerName   string         `json:"server_name"`
	Parameters   map[string]any `json:"parameters"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

// NoopAuditLogger discards all audit events.
type NoopAuditLogger struct{}

// Log does nothing.
func (*NoopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}
