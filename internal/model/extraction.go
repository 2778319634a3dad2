package model

import (
	"fmt"
	"time"
)

// SourceItem is one raw message pulled from a communication source.
type SourceItem struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// ExtractedEntity is one entity the model found in a source item.
type ExtractedEntity struct {
	Text       string `json:"text"`
	Label      string `json:"label"`
	Confidence int    `json:"confidence"` // 0-100
	Reasoning  string `json:"reasoning,omitempty"`
	Context    string `json:"context,omitempty"`
}

// ExtractedRelationship is one relationship between two entities.
type ExtractedRelationship struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	Label      string `json:"label"`
	Confidence int    `json:"confidence"` // 0-100
	Reasoning  string `json:"reasoning,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Text renders the relationship for review.
func (r ExtractedRelationship) Text() string {
	return fmt.Sprintf("%s -[%s]-> %s", r.Source, r.Label, r.Target)
}

// ExtractionResult is the validated output of one extraction call.
type ExtractionResult struct {
	Entities          []ExtractedEntity       `json:"entities"`
	Relationships     []ExtractedRelationship `json:"relationships"`
	CostEstimateCents int64                   `json:"cost_estimate_cents"`
}

// Validate checks the result once at the extraction boundary so the rest of
// the system never sees malformed shapes.
func (res *ExtractionResult) Validate() error {
	if res.CostEstimateCents < 0 {
		return fmt.Errorf("negative cost estimate: %d", res.CostEstimateCents)
	}
	for i, e := range res.Entities {
		if e.Text == "" {
			return fmt.Errorf("entity %d: empty text", i)
		}
		if e.Label == "" {
			return fmt.Errorf("entity %d: empty label", i)
		}
		if e.Confidence < 0 || e.Confidence > 100 {
			return fmt.Errorf("entity %d: confidence %d out of range", i, e.Confidence)
		}
	}
	for i, r := range res.Relationships {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("relationship %d: missing endpoint", i)
		}
		if r.Label == "" {
			return fmt.Errorf("relationship %d: empty label", i)
		}
		if r.Confidence < 0 || r.Confidence > 100 {
			return fmt.Errorf("relationship %d: confidence %d out of range", i, r.Confidence)
		}
	}
	return nil
}
