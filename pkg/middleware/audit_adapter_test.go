package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/mcp-gateway/pkg/audit"
)

// capturingSink records audit.Events passed through the adapter.
type capturingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *capturingSink) Log(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *capturingSink) Close() error { return nil }

func (s *capturingSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event{}, s.events...)
}

func TestAuditAdapter_ConvertsToolCallEvent(t *testing.T) {
	sink := &capturingSink{}
	adapter := NewAuditAdapter(sink)

	timestamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := adapter.Log(context.Background(), AuditEvent{
		Type:       AuditTypeToolCall,
		Timestamp:  timestamp,
		RequestID:  "req-1",
		SessionID:  "sess-1",
		UserID:     "user-1",
		Username:   "alice",
		ToolName:   "get_weather",
		ServerName: "weather",
		Parameters: map[string]any{
			"city":  "Berlin",
			"token": "super-secret",
		},
		Success:      true,
		ErrorMessage: "",
		DurationMS:   42,
	})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, audit.EventTypeToolCall, event.Type)
	assert.Equal(t, timestamp, event.Timestamp)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "sess-1", event.SessionID)
	assert.Equal(t, "user-1", event.UserID)
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "get_weather", event.ToolName)
	assert.Equal(t, "weather", event.ServerName)
	assert.True(t, event.Success)
	assert.Equal(t, int64(42), event.DurationMS)
	assert.NotEmpty(t, event.ID)

	// Sensitive parameters are sanitized on the way through.
	assert.Equal(t, "Berlin", event.Parameters["city"])
	assert.Equal(t, "[REDACTED]", event.Parameters["token"])
}

func TestAuditAdapter_ConvertsAuthEvent(t *testing.T) {
	sink := &capturingSink{}
	adapter := NewAuditAdapter(sink)

	err := adapter.Log(context.Background(), AuditEvent{
		Type:         AuditTypeAuth,
		Timestamp:    time.Now(),
		RequestID:    "req-2",
		ToolName:     "enable_server",
		Success:      false,
		ErrorMessage: "no verified principal",
	})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, audit.EventTypeAuth, event.Type)
	assert.Equal(t, "enable_server", event.ToolName)
	assert.False(t, event.Success)
	assert.Equal(t, "no verified principal", event.ErrorMessage)
}

func TestAuditAdapter_NilParameters(t *testing.T) {
	sink := &capturingSink{}
	adapter := NewAuditAdapter(sink)

	err := adapter.Log(context.Background(), AuditEvent{
		Type:     AuditTypeToolCall,
		ToolName: "search_servers",
		Success:  true,
	})
	require.NoError(t, err)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Parameters)
}
