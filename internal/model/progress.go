package model

import "time"

type SourceType string

const (
	SourceEmail    SourceType = "email"
	SourceCalendar SourceType = "calendar"
)

// SourceTypes lists all walkable sources in processing order.
var SourceTypes = []SourceType{SourceEmail, SourceCalendar}

// ProgressEntry records that one (user, source, calendar day) unit of work is
// complete. The triple is unique; a marked day is never revisited or re-billed.
type ProgressEntry struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	SessionID     int64      `json:"session_id"`
	SourceType    SourceType `json:"source_type"`
	ProcessedDate time.Time  `json:"processed_date"` // calendar day, time part zero
	ItemsFound    int        `json:"items_found"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
