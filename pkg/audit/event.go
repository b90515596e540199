package audit

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventTypeToolCall is a tool invocation event, including the built-in
	// gateway tools.
	EventTypeToolCall EventType = "tool_call"

	// EventTypeAuth is an authentication event.
	EventTypeAuth EventType = "auth"
)

// NewEvent creates a new tool-call audit event.
func NewEvent(toolName string) *Event {
	return &Event{
		ID:        generateEventID(),
		Type:      EventTypeToolCall,
		Timestamp: time.Now(),
		ToolName:  toolName,
	}
}

// NewAuthEvent creates a new authentication audit event.
func NewAuthEvent() *Event {
	return &Event{
		ID:        generateEventID(),
		Type:      EventTypeAuth,
		Timestamp: time.Now(),
	}
}

// WithUser adds user information to the event.
func (e *Event) WithUser(userID, username string) *Event {
	e.UserID = userID
	e.Username = username
	return e
}

// WithSession adds the session ID to the event.
func (e *Event) WithSession(sessionID string) *Event {
	e.SessionID = sessionID
	return e
}

// WithServer adds the downstream server name to the event.
func (e *Event) WithServer(server string) *Event {
	e.ServerName = server
	return e
}

// WithParameters adds parameters to the event.
func (e *Event) WithParameters(params map[string]any) *Event {
	e.Parameters = params
	return e
}

// WithResult adds result information to the event.
func (e *Event) WithResult(success bool, errorMsg string, durationMS int64) *Event {
	e.Success = success
	e.ErrorMessage = errorMsg
	e.DurationMS = durationMS
	return e
}

// WithRequestID adds a request ID to the event.
func (e *Event) WithRequestID(requestID string) *Event {
	e.RequestID = requestID
	return e
}

// generateEventID generates a unique event ID.
func generateEventID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// SanitizeParameters removes sensitive parameters from the event.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"authorization": true,
		"credentials":   true,
	}

	sanitized := make(map[string]any)
	for k, v := range params {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
		} else {
			sanitized[k] = v
		}
	}
	return sanitized
}
