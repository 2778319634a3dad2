package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"graphminer/internal/model"
)

// WalkerLauncher is the walker control surface the session service drives.
// Satisfied by walker.Engine.
type WalkerLauncher interface {
	Launch(sess *model.Session)
	Cancel(sessionID int64)
}

// Progress summarizes how far the walker has traversed.
type Progress struct {
	DaysProcessed   int `json:"days_processed"`
	ItemsDiscovered int `json:"items_discovered"`
}

// FeedbackStats summarizes the review loop.
type FeedbackStats struct {
	SamplesCollected int     `json:"samples_collected"`
	FeedbackReceived int     `json:"feedback_received"`
	CorrectCount     int     `json:"correct_count"`
	Accuracy         float64 `json:"accuracy"`
	AutoTrainReady   bool    `json:"auto_train_ready"`
}

// StatusReport is the full live view of a session.
type StatusReport struct {
	Session  *model.Session `json:"session"`
	Progress Progress       `json:"progress"`
	Feedback FeedbackStats  `json:"feedback"`
}

// SessionService owns the session lifecycle: creation, pause/resume/cancel,
// budget top-ups, and the status view. Every transition goes through here so
// the walker registry and the durable status row stay in step.
type SessionService struct {
	sessions SessionStore
	ledger   LedgerStore
	walkers  WalkerLauncher

	minFeedbackForAutoTrain int
	logger                  *zap.Logger
}

func NewSessionService(sessions SessionStore, ledger LedgerStore, walkers WalkerLauncher, minFeedbackForAutoTrain int, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions:                sessions,
		ledger:                  ledger,
		walkers:                 walkers,
		minFeedbackForAutoTrain: minFeedbackForAutoTrain,
		logger:                  logger,
	}
}

// Start creates a session and launches its walker. Starting while the user
// already has an active session is idempotent: the existing session is
// returned unchanged and, if it is running, its walker is re-attached.
func (s *SessionService) Start(ctx context.Context, userID int64, mode model.SessionMode, discoveryTotalCents, trainingTotalCents int64) (*model.Session, error) {
	if discoveryTotalCents <= 0 || trainingTotalCents <= 0 {
		return nil, fmt.Errorf("budget totals must be positive, got discovery=%d training=%d", discoveryTotalCents, trainingTotalCents)
	}
	if mode != model.ModeCollectFeedback && mode != model.ModeAutoTrain {
		return nil, fmt.Errorf("unknown session mode: %s", mode)
	}

	existing, err := s.sessions.FindActiveByUser(ctx, userID)
	if err == nil {
		s.logger.Info("Start requested with active session, returning existing",
			zap.Int64("user_id", userID),
			zap.Int64("session_id", existing.ID),
		)
		s.walkers.Launch(existing)
		return existing, nil
	}
	if !errors.Is(err, model.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	sess, err := s.sessions.Create(ctx, userID, mode, discoveryTotalCents, trainingTotalCents)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("Session started",
		zap.Int64("session_id", sess.ID),
		zap.Int64("user_id", userID),
		zap.String("mode", string(mode)),
		zap.Int64("discovery_total_cents", discoveryTotalCents),
		zap.Int64("training_total_cents", trainingTotalCents),
	)

	s.walkers.Launch(sess)
	return sess, nil
}

// Pause stops the walker and moves a running session to paused. Pausing an
// already paused session is a no-op.
func (s *SessionService) Pause(ctx context.Context, id int64) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.SessionPaused:
		return sess, nil
	case model.SessionComplete:
		return nil, model.ErrSessionTerminal
	case model.SessionBudgetExhausted:
		return nil, model.ErrBudgetExhausted
	}

	s.walkers.Cancel(id)
	return s.sessions.UpdateStatus(ctx, id, model.SessionPaused, "paused by user")
}

// Resume restarts a paused session's walker from the day ledger. Resuming a
// running session is a no-op; an exhausted session needs a top-up first.
func (s *SessionService) Resume(ctx context.Context, id int64) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case model.SessionRunning:
		s.walkers.Launch(sess)
		return sess, nil
	case model.SessionBudgetExhausted:
		return nil, model.ErrBudgetExhausted
	case model.SessionComplete:
		return nil, model.ErrSessionTerminal
	}

	updated, err := s.sessions.UpdateStatus(ctx, id, model.SessionRunning, "resumed by user")
	if err != nil {
		return nil, err
	}

	s.logger.Info("Session resumed", zap.Int64("session_id", id))
	s.walkers.Launch(updated)
	return updated, nil
}

// Cancel terminates a session from any non-terminal state. The walker stops
// at its next poll; collected samples and exceptions stay queryable.
func (s *SessionService) Cancel(ctx context.Context, id int64) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		return nil, model.ErrSessionTerminal
	}

	s.walkers.Cancel(id)
	return s.sessions.UpdateStatus(ctx, id, model.SessionComplete, "cancelled by user")
}

// TopUpDiscovery raises the discovery budget total. A session halted on
// budget exhaustion goes back to running and its walker relaunches from the
// ledger.
func (s *SessionService) TopUpDiscovery(ctx context.Context, id int64, amountCents int64) (*model.Session, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive, got %d", amountCents)
	}

	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status == model.SessionComplete {
		return nil, model.ErrSessionTerminal
	}

	updated, err := s.sessions.TopUpDiscovery(ctx, id, amountCents)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Discovery budget topped up",
		zap.Int64("session_id", id),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("remaining_cents", updated.Discovery.Remaining()),
	)

	if sess.Status == model.SessionBudgetExhausted {
		updated, err = s.sessions.UpdateStatus(ctx, id, model.SessionRunning, "discovery budget topped up")
		if err != nil {
			return nil, err
		}
		s.walkers.Launch(updated)
	}
	return updated, nil
}

// TopUpTraining raises the training budget total. Training exhaustion never
// halts the walker, so no relaunch is involved.
func (s *SessionService) TopUpTraining(ctx context.Context, id int64, amountCents int64) (*model.Session, error) {
	if amountCents <= 0 {
		return nil, fmt.Errorf("top-up amount must be positive, got %d", amountCents)
	}

	if _, err := s.sessions.FindByID(ctx, id); err != nil {
		return nil, err
	}

	updated, err := s.sessions.TopUpTraining(ctx, id, amountCents)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Training budget topped up",
		zap.Int64("session_id", id),
		zap.Int64("amount_cents", amountCents),
	)
	return updated, nil
}

// Status assembles the live session view: durable session row, ledger
// progress, and the feedback roll-up.
func (s *SessionService) Status(ctx context.Context, id int64) (*StatusReport, error) {
	sess, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	daysProcessed, itemsFound, err := s.ledger.Progress(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read walk progress: %w", err)
	}

	return &StatusReport{
		Session: sess,
		Progress: Progress{
			DaysProcessed:   daysProcessed,
			ItemsDiscovered: itemsFound,
		},
		Feedback: FeedbackStats{
			SamplesCollected: sess.SamplesCollected,
			FeedbackReceived: sess.FeedbackReceived,
			CorrectCount:     sess.CorrectCount,
			Accuracy:         sess.Accuracy,
			AutoTrainReady:   sess.FeedbackReceived >= s.minFeedbackForAutoTrain,
		},
	}, nil
}

// Reconcile rebuilds the session's denormalized counters from the sample
// table. Operational tool for drift, not part of the normal flow.
func (s *SessionService) Reconcile(ctx context.Context, id int64) (*model.Session, error) {
	sess, err := s.sessions.RecomputeCounters(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Session counters reconciled",
		zap.Int64("session_id", id),
		zap.Int("samples_collected", sess.SamplesCollected),
		zap.Int("feedback_received", sess.FeedbackReceived),
	)
	return sess, nil
}
