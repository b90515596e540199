//go:build integration

// Package helpers provides test utilities for gateway E2E testing: a fake
// identity provider, fake downstream MCP servers, and a harness that boots
// the full gateway stack against them.
package helpers

import (
	"os"
	"time"
)

// E2EConfig holds configuration for E2E tests.
type E2EConfig struct {
	// Timeout bounds a single test scenario.
	Timeout time.Duration
}

// DefaultE2EConfig returns E2E configuration from environment variables with defaults.
func DefaultE2EConfig() *E2EConfig {
	return &E2EConfig{
		Timeout: getEnvDuration("E2E_TIMEOUT", 60*time.Second),
	}
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
