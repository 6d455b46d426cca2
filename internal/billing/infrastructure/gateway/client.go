// Package gateway implements payment provider adapters behind the
// domain.Gateway interface.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

const maxResponseBytes = 1 << 20

// apiClient is a thin JSON HTTP client shared by the provider adapters. All
// outbound calls run through a circuit breaker so a degraded provider sheds
// load fast instead of tying up cron workers on timeouts.
type apiClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	logger    *slog.Logger
}

func newAPIClient(name, baseURL, secretKey string, logger *slog.Logger) *apiClient {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"gateway", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}
	return &apiClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 30 * time.Second},
		breaker:   gobreaker.NewCircuitBreaker[[]byte](settings),
		logger:    logger,
	}
}

// doJSON issues a request and returns the raw response body. Non-2xx
// responses are returned as errors; 4xx bodies are kept so callers can log
// what the provider rejected.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			encoded, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			body = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%s %s: provider error %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			c.logger.Warn("gateway rejected request",
				"method", method,
				"path", path,
				"status", resp.StatusCode,
			)
			return raw, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return raw, nil
	})
}
