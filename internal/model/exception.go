package model

import "time"

type ExceptionType string

const (
	ExceptionLowConfidence     ExceptionType = "low_confidence"
	ExceptionConflictingLabels ExceptionType = "conflicting_labels"
	ExceptionNovelPattern      ExceptionType = "novel_pattern"
	ExceptionError             ExceptionType = "error"
)

type ExceptionSeverity string

const (
	SeverityLow    ExceptionSeverity = "low"
	SeverityMedium ExceptionSeverity = "medium"
	SeverityHigh   ExceptionSeverity = "high"
)

type ExceptionStatus string

const (
	ExceptionPending   ExceptionStatus = "pending"
	ExceptionReviewed  ExceptionStatus = "reviewed"
	ExceptionDismissed ExceptionStatus = "dismissed"
)

// Exception is an anomaly flagged during processing or review. It references
// its sample weakly and keeps its own copy of the item's text so a deleted
// sample never orphans it. Exceptions are resolved explicitly, never expired.
type Exception struct {
	ID        int64   `json:"id"`
	SessionID int64   `json:"session_id"`
	UserID    int64   `json:"user_id"`
	SampleID  *string `json:"sample_id,omitempty"`

	Type     ExceptionType     `json:"type"`
	Severity ExceptionSeverity `json:"severity"`
	Status   ExceptionStatus   `json:"status"`
	Message  string            `json:"message"`

	// Copied from the sample at escalation time.
	ItemText    string `json:"item_text,omitempty"`
	ItemContext string `json:"item_context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
