package model

import "time"

type SessionStatus string

const (
	SessionRunning         SessionStatus = "running"
	SessionPaused          SessionStatus = "paused"
	SessionBudgetExhausted SessionStatus = "budget_exhausted"
	SessionComplete        SessionStatus = "complete"
)

type SessionMode string

const (
	ModeCollectFeedback SessionMode = "collect_feedback"
	ModeAutoTrain       SessionMode = "auto_train"
)

// Budget is a total/used counter pair in cents.
type Budget struct {
	TotalCents int64 `json:"total_cents"`
	UsedCents  int64 `json:"used_cents"`
}

// Remaining returns the unspent capacity in cents.
func (b Budget) Remaining() int64 {
	return b.TotalCents - b.UsedCents
}

// Session is one discovery run over a user's history. At most one session per
// user is active (completed_at IS NULL) at a time.
type Session struct {
	ID     int64         `json:"id"`
	UserID int64         `json:"user_id"`
	Status SessionStatus `json:"status"`
	Mode   SessionMode   `json:"mode"`
	// Human-readable explanation of the last status change.
	StatusReason string `json:"status_reason,omitempty"`

	Discovery Budget `json:"discovery_budget"`
	Training  Budget `json:"training_budget"`

	SamplesCollected int     `json:"samples_collected"`
	FeedbackReceived int     `json:"feedback_received"`
	CorrectCount     int     `json:"correct_count"`
	ExceptionsCount  int     `json:"exceptions_count"`
	Accuracy         float64 `json:"accuracy"` // 0-100, over reviewed samples

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Active reports whether the session still owns the user's discovery slot.
func (s *Session) Active() bool {
	return s.CompletedAt == nil
}

// Terminal reports whether the session can never run again.
func (s *Session) Terminal() bool {
	return s.Status == SessionComplete
}
