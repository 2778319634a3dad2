// Package source fetches a user's raw communication items from the upstream
// source service.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"graphminer/internal/model"
	"graphminer/pkg/metrics"
)

// Client pulls source items for a half-open date range [from, to).
type Client interface {
	FetchEmails(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error)
	FetchCalendarEvents(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error)
}

// HTTPClient talks to the source service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second, // a hung source must not stall the walker
		},
	}
}

func (c *HTTPClient) FetchEmails(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error) {
	return c.fetch(ctx, "/emails", model.SourceEmail, userID, from, to, limit)
}

func (c *HTTPClient) FetchCalendarEvents(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error) {
	return c.fetch(ctx, "/calendar_events", model.SourceCalendar, userID, from, to, limit)
}

func (c *HTTPClient) fetch(ctx context.Context, path string, sourceType model.SourceType, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error) {
	start := time.Now()

	q := url.Values{}
	q.Set("user_id", fmt.Sprintf("%d", userID))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordSourceFetchLatency(string(sourceType), "error", time.Since(start))
		return nil, fmt.Errorf("failed to call source service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		metrics.RecordSourceFetchLatency(string(sourceType), "5xx", time.Since(start))
		return nil, fmt.Errorf("source service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordSourceFetchLatency(string(sourceType), "error", time.Since(start))
		return nil, fmt.Errorf("source service error: %d", resp.StatusCode)
	}

	var payload struct {
		Items []model.SourceItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	for i := range payload.Items {
		payload.Items[i].SourceType = sourceType
	}

	metrics.RecordSourceFetchLatency(string(sourceType), "success", time.Since(start))
	return payload.Items, nil
}
