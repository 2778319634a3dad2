// Package api is the HTTP surface of the discovery engine.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"graphminer/pkg/metrics"
	"graphminer/pkg/mq"
	"graphminer/pkg/trace"
)

func NewRouter(
	sessionHandler *SessionHandler,
	sampleHandler *SampleHandler,
	exceptionHandler *ExceptionHandler,
	logger *zap.Logger,
	db *pgxpool.Pool,
	publisher *mq.Publisher,
) *gin.Engine {
	r := gin.Default()

	r.Use(traceMiddleware())
	r.Use(requestLogMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if publisher != nil && !publisher.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/sessions", sessionHandler.Start)
	r.GET("/sessions/:id/status", sessionHandler.Status)
	r.POST("/sessions/:id/pause", sessionHandler.Pause)
	r.POST("/sessions/:id/resume", sessionHandler.Resume)
	r.POST("/sessions/:id/cancel", sessionHandler.Cancel)
	r.POST("/sessions/:id/topup_discovery", sessionHandler.TopUpDiscovery)
	r.POST("/sessions/:id/topup_training", sessionHandler.TopUpTraining)
	r.POST("/sessions/:id/reconcile", sessionHandler.Reconcile)

	r.GET("/sessions/:id/samples", sampleHandler.List)
	r.GET("/sessions/:id/next_sample", sampleHandler.NextPending)
	r.POST("/samples/:id/feedback", sampleHandler.SubmitFeedback)
	r.POST("/samples/:id/skip", sampleHandler.Skip)

	r.GET("/sessions/:id/exceptions", exceptionHandler.List)
	r.POST("/exceptions/:id/review", exceptionHandler.MarkReviewed)
	r.POST("/exceptions/:id/dismiss", exceptionHandler.Dismiss)

	return r
}

// traceMiddleware threads the caller's trace id, or a fresh one, through the
// request context and echoes it on the response.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(trace.HeaderName())
		if traceID == "" {
			traceID = trace.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName(), traceID)
		c.Next()
	}
}

func requestLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("trace_id", trace.FromContext(c.Request.Context())),
		)
		metrics.RecordHTTPRequestDuration(c.Request.Method, c.FullPath(), statusLabel(c.Writer.Status()), latency)
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
