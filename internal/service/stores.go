package service

import (
	"context"
	"time"

	"graphminer/internal/model"
	"graphminer/internal/repository"
)

// SessionStore is the session persistence the services depend on. Satisfied
// by repository.SessionRepository.
type SessionStore interface {
	Create(ctx context.Context, userID int64, mode model.SessionMode, discoveryTotal, trainingTotal int64) (*model.Session, error)
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	FindActiveByUser(ctx context.Context, userID int64) (*model.Session, error)
	UpdateStatus(ctx context.Context, id int64, to model.SessionStatus, reason string) (*model.Session, error)
	TopUpDiscovery(ctx context.Context, id int64, amountCents int64) (*model.Session, error)
	TopUpTraining(ctx context.Context, id int64, amountCents int64) (*model.Session, error)
	RecomputeCounters(ctx context.Context, id int64) (*model.Session, error)
}

// SampleStore is the sample persistence the services depend on. Satisfied by
// repository.SampleRepository.
type SampleStore interface {
	FindByID(ctx context.Context, id string) (*model.Sample, error)
	SubmitFeedback(ctx context.Context, sampleID string, isCorrect bool, correctedLabel, notes *string, reviewCostCents int64) (*model.Sample, error)
	Skip(ctx context.Context, sampleID string) (*model.Sample, error)
	NextPending(ctx context.Context, sessionID int64) (*model.Sample, error)
	List(ctx context.Context, sessionID int64, filter repository.SampleFilter) ([]*model.Sample, int, error)
	HasConflictingReview(ctx context.Context, sessionID int64, contentText, predictionLabel string, isCorrect bool) (bool, error)
}

// LedgerStore reads aggregate walk progress. Satisfied by
// repository.ProgressRepository.
type LedgerStore interface {
	Progress(ctx context.Context, sessionID int64) (daysProcessed int, itemsFound int, err error)
	IsProcessed(ctx context.Context, userID int64, sourceType model.SourceType, date time.Time) (bool, error)
}

// ExceptionStore is the exception persistence the services depend on.
// Satisfied by repository.ExceptionRepository.
type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
	FindByID(ctx context.Context, id int64) (*model.Exception, error)
	List(ctx context.Context, sessionID int64, status model.ExceptionStatus) ([]*model.Exception, error)
	UpdateStatus(ctx context.Context, id int64, status model.ExceptionStatus) (*model.Exception, error)
}
