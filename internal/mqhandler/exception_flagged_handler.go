// Package mqhandler holds the worker-side consumers of the discovery.events
// exchange.
package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/internal/alert"
	"graphminer/internal/model"
	"graphminer/pkg/metrics"
	"graphminer/pkg/mq"
	"graphminer/pkg/util"
)

const exceptionFlaggedQueue = "alert_worker.exception_flagged"

// ExceptionFlaggedHandler fans flagged exceptions out to the alert channel.
// Redis-backed dedup keeps redelivered messages from double-alerting, and a
// retry counter parks poison messages on the DLQ instead of spinning forever.
type ExceptionFlaggedHandler struct {
	alerter      alert.Alerter
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	dlqPublisher *mq.Publisher
	maxRetries   int64
	logger       *zap.Logger
}

func NewExceptionFlaggedHandler(
	alerter alert.Alerter,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	dlqPublisher *mq.Publisher,
	maxRetries int64,
	logger *zap.Logger,
) *ExceptionFlaggedHandler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ExceptionFlaggedHandler{
		alerter:      alerter,
		deduper:      deduper,
		retryCounter: retryCounter,
		dlqPublisher: dlqPublisher,
		maxRetries:   maxRetries,
		logger:       logger,
	}
}

// QueueName is the durable queue this handler consumes from.
func (h *ExceptionFlaggedHandler) QueueName() string {
	return exceptionFlaggedQueue
}

// Handle processes one exception.flagged message. Returning an error nacks
// and requeues; parked and deduplicated messages return nil so they are
// acked.
func (h *ExceptionFlaggedHandler) Handle(ctx context.Context, data json.RawMessage) error {
	start := time.Now()

	var payload mqcontracts.ExceptionFlaggedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// Undecodable payloads would requeue forever; park them directly.
		h.logger.Error("Undecodable exception.flagged payload, parking on DLQ", zap.Error(err))
		return h.park(data, fmt.Sprintf("unmarshal failed: %v", err))
	}

	log := h.logger.With(
		zap.Int64("exception_id", payload.ExceptionID),
		zap.Int64("session_id", payload.SessionID),
		zap.String("trace_id", payload.TraceID),
	)

	if !h.deduper.AcquireOnce(ctx, "exception_flagged", payload.ExceptionID) {
		log.Info("Duplicate exception.flagged message, skipping")
		return nil
	}

	exc := &model.Exception{
		ID:        payload.ExceptionID,
		SessionID: payload.SessionID,
		UserID:    payload.UserID,
		SampleID:  payload.SampleID,
		Type:      model.ExceptionType(payload.Type),
		Severity:  model.ExceptionSeverity(payload.Severity),
		Message:   payload.Message,
		ItemText:  payload.ItemText,
		CreatedAt: payload.CreatedAt,
	}

	if err := h.alerter.Notify(ctx, payload.UserID, exc); err != nil {
		return h.handleFailure(ctx, log, payload.ExceptionID, data, err)
	}

	retryKey := util.FormatRetryKey("exception_flagged", payload.ExceptionID)
	if err := h.retryCounter.Reset(ctx, retryKey); err != nil {
		log.Warn("Failed to reset retry counter", zap.Error(err))
	}

	metrics.RecordMQConsumeLatency(mqcontracts.RoutingKeyExceptionFlagged, exceptionFlaggedQueue, time.Since(start))
	log.Info("Exception alert delivered",
		zap.String("type", payload.Type),
		zap.String("severity", payload.Severity),
	)
	return nil
}

func (h *ExceptionFlaggedHandler) handleFailure(ctx context.Context, log *zap.Logger, exceptionID int64, data json.RawMessage, cause error) error {
	retryable, errType := util.IsRetryableError(cause)

	retryKey := util.FormatRetryKey("exception_flagged", exceptionID)
	count, err := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if err != nil {
		log.Warn("Retry counter unavailable, requeueing", zap.Error(err))
		return cause
	}

	if util.ShouldRetry(count, h.maxRetries, retryable) {
		log.Warn("Alert delivery failed, requeueing",
			zap.String("error_type", errType),
			zap.Int64("attempt", count),
			zap.Error(cause),
		)
		return cause
	}

	log.Error("Alert delivery exhausted retries, parking on DLQ",
		zap.String("error_type", errType),
		zap.Int64("attempts", count),
		zap.Error(cause),
	)
	return h.park(data, cause.Error())
}

// park moves the message to the DLQ and acks it. A DLQ publish failure keeps
// the message on the main queue instead of losing it.
func (h *ExceptionFlaggedHandler) park(data json.RawMessage, reason string) error {
	if err := h.dlqPublisher.PublishToDLQ(mqcontracts.RoutingKeyExceptionFlagged, data, reason); err != nil {
		return fmt.Errorf("failed to park message on DLQ: %w", err)
	}
	return nil
}
