package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/pkg/metrics"
)

const sessionStatusQueue = "alert_worker.session_status"

// SessionStatusHandler keeps an audit trail of session lifecycle changes.
// Log-only today; the queue exists so downstream consumers can bind without
// touching the producer.
type SessionStatusHandler struct {
	logger *zap.Logger
}

func NewSessionStatusHandler(logger *zap.Logger) *SessionStatusHandler {
	return &SessionStatusHandler{logger: logger}
}

func (h *SessionStatusHandler) QueueName() string {
	return sessionStatusQueue
}

func (h *SessionStatusHandler) Handle(ctx context.Context, data json.RawMessage) error {
	start := time.Now()

	var payload mqcontracts.SessionStatusChangedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		// Nothing downstream depends on this record; drop bad payloads.
		h.logger.Error("Undecodable session.status_changed payload, dropping", zap.Error(err))
		return nil
	}

	h.logger.Info("Session status changed",
		zap.Int64("session_id", payload.SessionID),
		zap.Int64("user_id", payload.UserID),
		zap.String("old_status", payload.OldStatus),
		zap.String("new_status", payload.NewStatus),
		zap.String("reason", payload.Reason),
		zap.Time("changed_at", payload.ChangedAt),
		zap.String("trace_id", payload.TraceID),
	)

	metrics.RecordMQConsumeLatency(mqcontracts.RoutingKeySessionStatusChanged, sessionStatusQueue, time.Since(start))
	return nil
}
