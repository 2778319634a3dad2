package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphminer/internal/model"
	"graphminer/pkg/circuitbreaker"
)

func testItem() model.SourceItem {
	return model.SourceItem{
		ID:         "m1",
		SourceType: model.SourceEmail,
		Title:      "intro call",
		Body:       "Alice from Acme joined the call",
	}
}

func TestExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var item model.SourceItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&item))
		assert.Equal(t, "m1", item.ID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"entities": [{"text": "Alice", "label": "person", "confidence": 92}],
			"relationships": [{"source": "Alice", "target": "Acme", "label": "works_at", "confidence": 80}],
			"cost_estimate_cents": 12
		}`))
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	result, err := engine.Extract(context.Background(), testItem())
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "Alice", result.Entities[0].Text)
	assert.Equal(t, "Alice -[works_at]-> Acme", result.Relationships[0].Text())
	assert.Equal(t, int64(12), result.CostEstimateCents)
}

func TestExtractRejectsMalformedResult(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"confidence out of range", `{"entities": [{"text": "Alice", "label": "person", "confidence": 140}]}`},
		{"empty entity text", `{"entities": [{"text": "", "label": "person", "confidence": 80}]}`},
		{"missing relationship endpoint", `{"relationships": [{"source": "Alice", "target": "", "label": "knows", "confidence": 70}]}`},
		{"negative cost", `{"cost_estimate_cents": -4}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			engine := NewHTTPEngine(srv.URL)
			_, err := engine.Extract(context.Background(), testItem())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid extraction result")
		})
	}
}

func TestExtractServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	_, err := engine.Extract(context.Background(), testItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction service 5xx: 500")
}

func TestExtractBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	threshold := circuitbreaker.DefaultConfig().FailureThreshold

	for i := 0; i < threshold; i++ {
		_, err := engine.Extract(context.Background(), testItem())
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	}

	// The breaker is open now: calls fail fast without touching the service.
	_, err := engine.Extract(context.Background(), testItem())
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
}

func TestExtractEmptyResultIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entities": [], "relationships": [], "cost_estimate_cents": 0}`))
	}))
	defer srv.Close()

	engine := NewHTTPEngine(srv.URL)
	result, err := engine.Extract(context.Background(), testItem())
	require.NoError(t, err)
	assert.Empty(t, result.Entities)
	assert.Equal(t, int64(0), result.CostEstimateCents)
}
