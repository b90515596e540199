// Package audit records gateway activity: tool calls, server activations,
// and authentication failures. The gateway keeps no persisted state, so
// the audit trail is the structured log stream.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Close releases resources.
	Close() error
}

// Event represents an auditable event.
type Event struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	DurationMS   int64          `json:"duration_ms"`
	RequestID    string         `json:"request_id"`
	SessionID    string         `json:"session_id,omitempty"`
	UserID       string         `json:"user_id"`
	Username     string         `json:"username,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	ServerName   string         `json:"server_name,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Config configures audit logging.
type Config struct {
	Enabled      bool
	LogToolCalls bool
}

// SlogLogger emits audit events as structured log records.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates an audit logger writing to the given slog logger.
// A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Log writes the event at info level under the fixed "audit" message.
// Parameters are sanitized before they reach the log stream.
func (l *SlogLogger) Log(ctx context.Context, event Event) error {
	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("request_id", event.RequestID),
		slog.String("user_id", event.UserID),
		slog.Bool("success", event.Success),
		slog.Int64("duration_ms", event.DurationMS),
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", event.Username))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.ToolName != "" {
		attrs = append(attrs, slog.String("tool", event.ToolName))
	}
	if event.ServerName != "" {
		attrs = append(attrs, slog.String("server", event.ServerName))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if len(event.Parameters) > 0 {
		attrs = append(attrs, slog.Any("parameters", SanitizeParameters(event.Parameters)))
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// Close implements Logger. The slog sink has nothing to release.
func (l *SlogLogger) Close() error {
	return nil
}

// Verify interface compliance.
var _ Logger = (*SlogLogger)(nil)
