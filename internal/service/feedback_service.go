package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/internal/model"
	"graphminer/internal/repository"
	"graphminer/pkg/metrics"
	"graphminer/pkg/trace"
)

// EventPublisher pushes domain events to the broker. Satisfied by
// mq.Publisher.
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// FeedbackService runs the human review loop: submit, skip, and paginate
// samples, and fire the auto-train gate when a session has collected enough
// verdicts.
type FeedbackService struct {
	samples    SampleStore
	sessions   SessionStore
	escalation *EscalationService
	publisher  EventPublisher

	reviewCostCents         int64
	minFeedbackForAutoTrain int
	logger                  *zap.Logger
}

func NewFeedbackService(
	samples SampleStore,
	sessions SessionStore,
	escalation *EscalationService,
	publisher EventPublisher,
	reviewCostCents int64,
	minFeedbackForAutoTrain int,
	logger *zap.Logger,
) *FeedbackService {
	return &FeedbackService{
		samples:                 samples,
		sessions:                sessions,
		escalation:              escalation,
		publisher:               publisher,
		reviewCostCents:         reviewCostCents,
		minFeedbackForAutoTrain: minFeedbackForAutoTrain,
		logger:                  logger,
	}
}

// Submit records the reviewer's verdict on a pending sample. The verdict,
// the training budget debit, and the session counters commit atomically; a
// second submission for the same sample fails with ErrAlreadyReviewed and
// changes nothing.
func (s *FeedbackService) Submit(ctx context.Context, sampleID string, isCorrect bool, correctedLabel, notes *string) (*model.Sample, error) {
	sample, err := s.samples.SubmitFeedback(ctx, sampleID, isCorrect, correctedLabel, notes, s.reviewCostCents)
	if err != nil {
		return nil, err
	}

	outcome := "incorrect"
	if isCorrect {
		outcome = "correct"
	}
	metrics.IncrementFeedbackReceived(outcome)
	metrics.AddBudgetDebit("training", s.reviewCostCents)

	sess, err := s.sessions.FindByID(ctx, sample.SessionID)
	if err != nil {
		// The verdict is already durable; the follow-up checks are best
		// effort.
		s.logger.Error("Failed to reload session after feedback",
			zap.Int64("session_id", sample.SessionID),
			zap.Error(err),
		)
		return sample, nil
	}

	s.checkConflict(ctx, sess, sample, isCorrect)
	s.checkAutoTrainGate(ctx, sess)

	return sample, nil
}

// Skip marks a pending sample skipped. Skips cost nothing and do not count
// toward the auto-train gate.
func (s *FeedbackService) Skip(ctx context.Context, sampleID string) (*model.Sample, error) {
	sample, err := s.samples.Skip(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	metrics.IncrementFeedbackReceived("skipped")
	return sample, nil
}

// NextPending returns the oldest unreviewed sample of the session.
func (s *FeedbackService) NextPending(ctx context.Context, sessionID int64) (*model.Sample, error) {
	return s.samples.NextPending(ctx, sessionID)
}

// List pages through a session's samples.
func (s *FeedbackService) List(ctx context.Context, sessionID int64, filter repository.SampleFilter) ([]*model.Sample, int, error) {
	return s.samples.List(ctx, sessionID, filter)
}

// checkConflict escalates when this verdict contradicts an earlier review of
// the same content and predicted label.
func (s *FeedbackService) checkConflict(ctx context.Context, sess *model.Session, sample *model.Sample, isCorrect bool) {
	conflict, err := s.samples.HasConflictingReview(ctx, sess.ID, sample.Content.Text, sample.Prediction.Label, isCorrect)
	if err != nil {
		s.logger.Error("Conflict check failed",
			zap.String("sample_id", sample.ID),
			zap.Error(err),
		)
		return
	}
	if conflict {
		s.escalation.EscalateConflict(ctx, sess, sample)
	}
}

// checkAutoTrainGate publishes session.autotrain_ready exactly when an
// auto_train session crosses the feedback threshold. Firing on the crossing
// count keeps the event single-shot without extra state.
func (s *FeedbackService) checkAutoTrainGate(ctx context.Context, sess *model.Session) {
	if sess.Mode != model.ModeAutoTrain {
		return
	}
	if sess.FeedbackReceived != s.minFeedbackForAutoTrain {
		return
	}

	payload := mqcontracts.AutoTrainReadyPayload{
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		FeedbackReceived: sess.FeedbackReceived,
		Accuracy:         sess.Accuracy,
		ReadyAt:          time.Now(),
		TraceID:          trace.FromContext(ctx),
	}

	if err := s.publisher.PublishWithContext(ctx, mqcontracts.RoutingKeyAutoTrainReady, payload); err != nil {
		// Best effort: the gate state is derivable from the session row, a
		// missed event is recoverable by reconciliation.
		s.logger.Error("Failed to publish autotrain ready event",
			zap.Int64("session_id", sess.ID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Auto-train gate reached",
		zap.Int64("session_id", sess.ID),
		zap.Int("feedback_received", sess.FeedbackReceived),
		zap.Float64("accuracy", sess.Accuracy),
	)
}

// AccuracySummary renders the session accuracy for reports.
func AccuracySummary(sess *model.Session) string {
	if sess.FeedbackReceived == 0 {
		return "no feedback yet"
	}
	return fmt.Sprintf("%d/%d correct (%.1f%%)", sess.CorrectCount, sess.FeedbackReceived, sess.Accuracy)
}
