// Package content fetches raw per-user discussion activity from the
// upstream content service and parses it into typed records, rejecting
// malformed payloads early instead of letting missing fields propagate into
// aggregation.
package content

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"forum-digest-notifier/metrics"
	"forum-digest-notifier/pkg/digest"
)

// WindowFormat is the wire format for time window bounds, the upstream
// service's %Y-%m-%d %H:%M:%S%z.
const WindowFormat = "2006-01-02 15:04:05-0700"

// ServiceError indicates the content service was unreachable or returned a
// non-2xx response. It is retryable at the batch level by the caller.
type ServiceError struct {
	Status int    // HTTP status, 0 for transport failures
	Detail string // status text or transport error message
}

func (e *ServiceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("content service HTTP %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("content service request failed: %s", e.Detail)
}

// IsServiceError checks if an error is a content ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// Client calls the content service notifications API.
type Client struct {
	client  *http.Client
	logger  *slog.Logger
	metrics metrics.Sink
	baseURL string
	apiKey  string
}

// New creates a content service client.
func New(client *http.Client, baseURL, apiKey string, sink metrics.Sink, logger *slog.Logger) *Client {
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Client{
		client:  client,
		logger:  logger,
		metrics: sink,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// compareIDs orders decimal user ids numerically so "9" sorts before "10".
// Ids that are not plain integers fall back to string order.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}

// Fetch issues one notifications request for the given user ids and time
// window, returning the parsed per-user activity. No retry is performed
// here; retry is the caller's responsibility.
func (c *Client) Fetch(ctx context.Context, userIDs []string, from, to time.Time) (map[string]digest.UserActivity, error) {
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	slices.SortFunc(ids, compareIDs) // deterministic request body

	form := url.Values{
		"user_ids": {strings.Join(ids, ",")},
		"from":     {from.Format(WindowFormat)},
		"to":       {to.Format(WindowFormat)},
	}

	endpoint := c.baseURL + "/api/v1/notifications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Edx-Api-Key", c.apiKey)

	c.logger.Info("Content service request starting",
		"method", "POST",
		"endpoint", endpoint,
		"user_count", len(ids),
		"from", from.Format(WindowFormat),
		"to", to.Format(WindowFormat))

	startTime := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, &ServiceError{Detail: err.Error()}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	c.logger.Info("Content service request completed",
		"endpoint", endpoint,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())
	c.metrics.Timing("notifier.comments_service.time", duration)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{Status: resp.StatusCode, Detail: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Detail: fmt.Sprintf("read response: %s", err)}
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return nil, fmt.Errorf("parse notifications payload: %w", err)
	}
	return payload, nil
}
