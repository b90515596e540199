//go:build integration

package helpers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// WaitConfig configures readiness polling.
type WaitConfig struct {
	Timeout  time.Duration
	Interval time.Duration
}

// DefaultWaitConfig returns polling defaults suited to in-process boots.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Timeout:  10 * time.Second,
		Interval: 50 * time.Millisecond,
	}
}

// WaitForGateway polls the gateway's readiness probe until it reports ready.
func WaitForGateway(ctx context.Context, baseURL string, cfg WaitConfig) error {
	url := baseURL + "/readyz"
	deadline := time.Now().Add(cfg.Timeout)
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		time.Sleep(cfg.Interval)
	}

	return fmt.Errorf("gateway at %s not ready within %v", baseURL, cfg.Timeout)
}
