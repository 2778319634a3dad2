// Package extraction wraps the entity/relationship extraction model behind a
// validated boundary: whatever shape the model service returns, the rest of
// the system only ever sees a checked ExtractionResult.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"graphminer/internal/model"
	"graphminer/pkg/circuitbreaker"
	"graphminer/pkg/metrics"
)

// Engine turns one source item into entities, relationships, and a price.
// Extract is side-effect free per item.
type Engine interface {
	Extract(ctx context.Context, item model.SourceItem) (*model.ExtractionResult, error)
}

// HTTPEngine calls the extraction service over HTTP, guarded by a circuit
// breaker so a dead model endpoint fails fast instead of timing out per item.
type HTTPEngine struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
	}
}

func (e *HTTPEngine) Extract(ctx context.Context, item model.SourceItem) (*model.ExtractionResult, error) {
	var result *model.ExtractionResult

	err := e.breaker.Execute(func() error {
		var callErr error
		result, callErr = e.extract(ctx, item)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *HTTPEngine) extract(ctx context.Context, item model.SourceItem) (*model.ExtractionResult, error) {
	start := time.Now()

	b, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		metrics.RecordExtractionCallLatency("error", time.Since(start))
		return nil, fmt.Errorf("failed to call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		metrics.RecordExtractionCallLatency("5xx", time.Since(start))
		return nil, fmt.Errorf("extraction service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.RecordExtractionCallLatency("error", time.Since(start))
		return nil, fmt.Errorf("extraction service error: %d", resp.StatusCode)
	}

	var result model.ExtractionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		metrics.RecordExtractionCallLatency("invalid", time.Since(start))
		return nil, fmt.Errorf("invalid extraction result: %w", err)
	}

	metrics.RecordExtractionCallLatency("success", time.Since(start))
	return &result, nil
}
