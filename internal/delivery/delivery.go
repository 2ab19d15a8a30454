// Package delivery sends finished artifacts to the project backend.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/briefsmith/internal/domain"
)

const (
	projectsPath    = "/api/v1/projects"
	maxErrorBodyLen = 512
)

// Payload is the body posted to the backend.
type Payload struct {
	TRD           string          `json:"trd"`
	EstimatedTime domain.Document `json:"estimated_time"`
	EstimatedCost domain.Document `json:"estimated_cost"`
	TaskBreakdown domain.Document `json:"task_breakdown,omitempty"`
	CursorRules   string          `json:"cursor_rules,omitempty"`
}

// Client posts payloads to BACKEND_ENDPOINT_URL. Delivery never returns an
// error; every outcome is described by the returned status.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client for baseURL. An empty baseURL yields a client that
// reports delivery as not configured.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := ""
	if baseURL != "" {
		endpoint = baseURL + projectsPath
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Endpoint returns the full delivery URL, empty when unconfigured.
func (c *Client) Endpoint() string { return c.endpoint }

// Send posts p and reports the outcome.
func (c *Client) Send(ctx context.Context, p Payload) domain.DeliveryStatus {
	if c.endpoint == "" {
		return domain.DeliveryStatus{Message: "Backend endpoint URL not configured (BACKEND_ENDPOINT_URL)"}
	}

	body, err := json.Marshal(p)
	if err != nil {
		return domain.DeliveryStatus{Message: fmt.Sprintf("Error sending to backend: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryStatus{Message: fmt.Sprintf("Error sending to backend: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("Sending artifacts to backend", "endpoint", c.endpoint, "bytes", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.DeliveryStatus{Message: "Backend request timed out"}
		}
		return domain.DeliveryStatus{Message: fmt.Sprintf("Error sending to backend: %v", err)}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close backend response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return domain.DeliveryStatus{
			StatusCode: resp.StatusCode,
			Message:    "Backend returned error: " + string(text),
		}
	}

	return domain.DeliveryStatus{
		Sent:       true,
		StatusCode: resp.StatusCode,
		Message:    "Successfully sent to backend",
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
