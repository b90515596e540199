package middleware

import (
	"context"

	"github.com/txn2/mcp-gateway/pkg/audit"
)

// auditSink defines the interface for audit event emission.
// This allows for easier testing with mock implementations.
type auditSink interface {
	Log(ctx context.Context, event audit.Event) error
}

// auditSinkAdapter adapts an audit sink to the middleware.AuditLogger interface.
type auditSinkAdapter struct {
	sink auditSink
}

// NewAuditAdapter creates an AuditLogger that forwards events to the
// gateway's audit logger.
func NewAuditAdapter(logger audit.Logger) AuditLogger {
	return &auditSinkAdapter{sink: logger}
}

// Log records an audit event by converting from middleware.AuditEvent to audit.Event.
func (a *auditSinkAdapter) Log(ctx context.Context, event AuditEvent) error {
	var auditEvent *audit.Event
	if event.Type == AuditTypeAuth {
		auditEvent = audit.NewAuthEvent()
		auditEvent.ToolName = event.ToolName
	} else {
		auditEvent = audit.NewEvent(event.ToolName)
	}

	auditEvent = auditEvent.
		WithRequestID(event.RequestID).
		WithSession(event.SessionID).
		WithUser(event.UserID, event.Username).
		WithServer(event.ServerName).
		WithParameters(audit.SanitizeParameters(event.Parameters)).
		WithResult(event.Success, event.ErrorMessage, event.DurationMS)

	// Override timestamp from the event
	auditEvent.Timestamp = event.Timestamp

	return a.sink.Log(ctx, *auditEvent)
}
