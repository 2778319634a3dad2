package mq

import "time"

// Routing keys on the discovery.events exchange.
const (
	RoutingKeyExceptionFlagged     = "exception.flagged"
	RoutingKeySessionStatusChanged = "session.status_changed"
	RoutingKeyAutoTrainReady       = "session.autotrain_ready"
)

type ExceptionFlaggedPayload struct {
	ExceptionID int64     `json:"exception_id"`
	SessionID   int64     `json:"session_id"`
	UserID      int64     `json:"user_id"`
	SampleID    *string   `json:"sample_id,omitempty"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	ItemText    string    `json:"item_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type SessionStatusChangedPayload struct {
	SessionID int64     `json:"session_id"`
	UserID    int64     `json:"user_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	TraceID   string    `json:"trace_id,omitempty"`
}

type AutoTrainReadyPayload struct {
	SessionID        int64     `json:"session_id"`
	UserID           int64     `json:"user_id"`
	FeedbackReceived int       `json:"feedback_received"`
	Accuracy         float64   `json:"accuracy"`
	ReadyAt          time.Time `json:"ready_at"`
	TraceID          string    `json:"trace_id,omitempty"`
}
