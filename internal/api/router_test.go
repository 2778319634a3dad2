package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphminer/pkg/trace"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	// Handlers are wired but their routes are not exercised here; db and
	// publisher back /readyz only.
	return NewRouter(
		NewSessionHandler(nil, log),
		NewSampleHandler(nil, log),
		NewExceptionHandler(nil, log),
		log,
		nil,
		nil,
	)
}

func TestHealthz(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestTraceMiddlewareEchoesCallerTraceID(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName(), "trace-abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, "trace-abc-123", w.Header().Get(trace.HeaderName()))
}

func TestTraceMiddlewareGeneratesTraceID(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	got := w.Header().Get(trace.HeaderName())
	require.NotEmpty(t, got)
	// Generated ids are 16 random bytes hex-encoded.
	assert.Len(t, got, 32)
}

func TestInvalidSessionIDRejected(t *testing.T) {
	r := testRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/not-a-number/status", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
