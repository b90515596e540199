package middleware

import (
	"context"
	"testing"
)

func TestGatewayContext(t *testing.T) {
	t.Run("NewGatewayContext", func(t *testing.T) {
		gc := NewGatewayContext("req-123")
		if gc.RequestID != "req-123" {
			t.Errorf("RequestID = %q, want %q", gc.RequestID, "req-123")
		}
		if gc.StartTime.IsZero() {
			t.Error("StartTime should not be zero")
		}
	})

	t.Run("WithGatewayContext and GetGatewayContext", func(t *testing.T) {
		gc := NewGatewayContext("req-456")
		gc.UserID = "user123"
		gc.ToolName = "test_tool"

		ctx := WithGatewayContext(context.Background(), gc)
		got := GetGatewayContext(ctx)

		if got == nil {
			t.Fatal("GetGatewayContext() returned nil")
		}
		if got.UserID != "user123" {
			t.Errorf("UserID = %q, want %q", got.UserID, "user123")
		}
		if got.ToolName != "test_tool" {
			t.Errorf("ToolName = %q, want %q", got.ToolName, "test_tool")
		}
	})

	t.Run("GetGatewayContext not set", func(t *testing.T) {
		ctx := context.Background()
		got := GetGatewayContext(ctx)
		if got != nil {
			t.Error("GetGatewayContext() expected nil for empty context")
		}
	})

	t.Run("MustGetGatewayContext panics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("MustGetGatewayContext() expected panic")
			}
		}()
		ctx := context.Background()
		MustGetGatewayContext(ctx)
	})

	t.Run("MustGetGatewayContext succeeds", func(t *testing.T) {
		gc := NewGatewayContext("req-789")
		ctx := WithGatewayContext(context.Background(), gc)
		got := MustGetGatewayContext(ctx)
		if got.RequestID != "req-789" {
			t.Errorf("RequestID = %q, want %q", got.RequestID, "req-789")
		}
	})
}
