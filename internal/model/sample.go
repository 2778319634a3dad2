package model

import "time"

type SampleType string

const (
	SampleEntity       SampleType = "entity"
	SampleRelationship SampleType = "relationship"
)

type SampleStatus string

const (
	SamplePending  SampleStatus = "pending"
	SampleReviewed SampleStatus = "reviewed"
	SampleSkipped  SampleStatus = "skipped"
)

// SampleContent is the text surfaced to the reviewer.
type SampleContent struct {
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// SamplePrediction is what the extraction model claimed about the content.
type SamplePrediction struct {
	Label      string `json:"label"`
	Confidence int    `json:"confidence"` // 0-100
	Reasoning  string `json:"reasoning,omitempty"`
}

// SampleFeedback is the reviewer's verdict. Set exactly once.
type SampleFeedback struct {
	IsCorrect      bool      `json:"is_correct"`
	CorrectedLabel *string   `json:"corrected_label,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
	FeedbackAt     time.Time `json:"feedback_at"`
}

// Sample is one discovered entity or relationship awaiting human review.
// Samples are append-only: they are mutated exactly once by a feedback
// submission or a skip and never deleted.
type Sample struct {
	ID         string           `json:"id"`
	SessionID  int64            `json:"session_id"`
	Type       SampleType       `json:"type"`
	Content    SampleContent    `json:"content"`
	Prediction SamplePrediction `json:"prediction"`
	Status     SampleStatus     `json:"status"`
	Feedback   *SampleFeedback  `json:"feedback,omitempty"`

	SourceType SourceType `json:"source_type"`
	SourceDate time.Time  `json:"source_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
