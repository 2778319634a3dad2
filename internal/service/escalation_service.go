package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"graphminer/internal/model"
	"graphminer/pkg/metrics"
)

// EscalationService turns anomalies into exception records. Escalation is
// best effort: a failed write is logged and never propagated, so the flow
// that tripped the anomaly keeps going.
type EscalationService struct {
	exceptions      ExceptionStore
	confidenceFloor int
	logger          *zap.Logger
}

func NewEscalationService(exceptions ExceptionStore, confidenceFloor int, logger *zap.Logger) *EscalationService {
	return &EscalationService{
		exceptions:      exceptions,
		confidenceFloor: confidenceFloor,
		logger:          logger,
	}
}

// EscalateLowConfidence flags a sample whose prediction confidence fell below
// the floor. Confidence under half the floor is high severity.
func (s *EscalationService) EscalateLowConfidence(ctx context.Context, sess *model.Session, sample *model.Sample) {
	severity := model.SeverityMedium
	if sample.Prediction.Confidence < s.confidenceFloor/2 {
		severity = model.SeverityHigh
	}

	sampleID := sample.ID
	s.raise(ctx, &model.Exception{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		SampleID:    &sampleID,
		Type:        model.ExceptionLowConfidence,
		Severity:    severity,
		Status:      model.ExceptionPending,
		Message:     fmt.Sprintf("prediction confidence %d below floor %d", sample.Prediction.Confidence, s.confidenceFloor),
		ItemText:    sample.Content.Text,
		ItemContext: sample.Content.Context,
	})
}

// EscalateConflict flags a review that contradicts an earlier verdict on the
// same content and predicted label.
func (s *EscalationService) EscalateConflict(ctx context.Context, sess *model.Session, sample *model.Sample) {
	sampleID := sample.ID
	s.raise(ctx, &model.Exception{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		SampleID:    &sampleID,
		Type:        model.ExceptionConflictingLabels,
		Severity:    model.SeverityHigh,
		Status:      model.ExceptionPending,
		Message:     fmt.Sprintf("feedback contradicts an earlier review of %q labelled %q", sample.Content.Text, sample.Prediction.Label),
		ItemText:    sample.Content.Text,
		ItemContext: sample.Content.Context,
	})
}

// EscalateProcessingError records an item that failed extraction and was
// skipped by the walker.
func (s *EscalationService) EscalateProcessingError(ctx context.Context, sess *model.Session, item model.SourceItem, cause error) {
	s.raise(ctx, &model.Exception{
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Type:        model.ExceptionError,
		Severity:    model.SeverityLow,
		Status:      model.ExceptionPending,
		Message:     fmt.Sprintf("extraction failed for %s item %s: %v", item.SourceType, item.ID, cause),
		ItemText:    item.Title,
		ItemContext: string(item.SourceType),
	})
}

func (s *EscalationService) raise(ctx context.Context, exc *model.Exception) {
	if err := s.exceptions.Create(ctx, exc); err != nil {
		s.logger.Error("Failed to record exception",
			zap.Int64("session_id", exc.SessionID),
			zap.String("type", string(exc.Type)),
			zap.Error(err),
		)
		return
	}

	metrics.IncrementExceptionsRaised(string(exc.Type), string(exc.Severity))
	s.logger.Info("Exception raised",
		zap.Int64("exception_id", exc.ID),
		zap.Int64("session_id", exc.SessionID),
		zap.String("type", string(exc.Type)),
		zap.String("severity", string(exc.Severity)),
	)
}

// Dismiss marks a pending exception dismissed.
func (s *EscalationService) Dismiss(ctx context.Context, id int64) (*model.Exception, error) {
	return s.exceptions.UpdateStatus(ctx, id, model.ExceptionDismissed)
}

// MarkReviewed marks a pending exception reviewed.
func (s *EscalationService) MarkReviewed(ctx context.Context, id int64) (*model.Exception, error) {
	return s.exceptions.UpdateStatus(ctx, id, model.ExceptionReviewed)
}

// List returns a session's exceptions, optionally filtered by status.
func (s *EscalationService) List(ctx context.Context, sessionID int64, status model.ExceptionStatus) ([]*model.Exception, error) {
	return s.exceptions.List(ctx, sessionID, status)
}
