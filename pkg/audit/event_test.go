package audit

import "testing"

const (
	redactedValue       = "[REDACTED]"
	eventTestDurationMS = 100
)

func TestNewEvent(t *testing.T) {
	event := NewEvent("get_weather")

	if event.ToolName != "get_weather" {
		t.Errorf("ToolName = %q, want %q", event.ToolName, "get_weather")
	}
	if event.Type != EventTypeToolCall {
		t.Errorf("Type = %q, want %q", event.Type, EventTypeToolCall)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestNewAuthEvent(t *testing.T) {
	event := NewAuthEvent()

	if event.Type != EventTypeAuth {
		t.Errorf("Type = %q, want %q", event.Type, EventTypeAuth)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
}

func TestEvent_Builders(t *testing.T) {
	event := NewEvent("get_weather").
		WithUser("user123", "alice").
		WithSession("sess-abc").
		WithServer("weather").
		WithParameters(map[string]any{"city": "Oslo"}).
		WithResult(true, "", eventTestDurationMS).
		WithRequestID("req-123")

	if event.UserID != "user123" {
		t.Errorf("UserID = %q, want %q", event.UserID, "user123")
	}
	if event.Username != "alice" {
		t.Errorf("Username = %q, want %q", event.Username, "alice")
	}
	if event.SessionID != "sess-abc" {
		t.Errorf("SessionID = %q, want %q", event.SessionID, "sess-abc")
	}
	if event.ServerName != "weather" {
		t.Errorf("ServerName = %q, want %q", event.ServerName, "weather")
	}
	if event.Parameters["city"] != "Oslo" {
		t.Error("Parameters not set correctly")
	}
	if !event.Success {
		t.Error("Success = false, want true")
	}
	if event.DurationMS != eventTestDurationMS {
		t.Errorf("DurationMS = %d, want %d", event.DurationMS, eventTestDurationMS)
	}
	if event.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want %q", event.RequestID, "req-123")
	}
}

func TestSanitizeParameters(t *testing.T) {
	params := map[string]any{
		"city":     "Oslo",
		"password": "secret123",
		"token":    "abc123",
		"limit":    eventTestDurationMS,
	}

	sanitized := SanitizeParameters(params)

	if sanitized["city"] != "Oslo" {
		t.Error("city should not be sanitized")
	}
	if sanitized["password"] != redactedValue {
		t.Errorf("password = %v, want %s", sanitized["password"], redactedValue)
	}
	if sanitized["token"] != redactedValue {
		t.Errorf("token = %v, want %s", sanitized["token"], redactedValue)
	}
	if sanitized["limit"] != eventTestDurationMS {
		t.Error("limit should not be sanitized")
	}
}

func TestSanitizeParameters_Nil(t *testing.T) {
	sanitized := SanitizeParameters(nil)
	if sanitized != nil {
		t.Error("SanitizeParameters(nil) should return nil")
	}
}
