// Package walker drives the day-by-day traversal of a user's history. One
// walker goroutine per session walks backward from today, pulls source items,
// runs extraction, persists review samples, and keeps the day ledger and the
// discovery budget consistent. Days are the idempotency unit: a day is marked
// processed only after its samples are durably saved, so a crash mid-day
// leaves the day unmarked and safe to reprocess.
package walker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"graphminer/internal/budget"
	"graphminer/internal/extraction"
	"graphminer/internal/model"
	"graphminer/internal/source"
	"graphminer/pkg/metrics"
	"graphminer/pkg/util"
)

// errDiscoveryExhausted stops the walk when the discovery budget runs dry.
// It is a status transition, not a failure.
var errDiscoveryExhausted = errors.New("discovery budget exhausted")

// SessionStore is the slice of session persistence the walker needs.
type SessionStore interface {
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	UpdateStatus(ctx context.Context, id int64, to model.SessionStatus, reason string) (*model.Session, error)
	DebitDiscovery(ctx context.Context, id int64, costCents int64) error
}

// Ledger is the day-granular idempotency record.
type Ledger interface {
	IsProcessed(ctx context.Context, userID int64, sourceType model.SourceType, date time.Time) (bool, error)
	MarkProcessed(ctx context.Context, entry *model.ProgressEntry) error
}

// SampleWriter persists a day's extracted samples.
type SampleWriter interface {
	CreateBatch(ctx context.Context, samples []*model.Sample) (int, error)
}

// Escalator flags anomalies found during processing. Implementations own
// their failure handling; escalation never aborts the walk.
type Escalator interface {
	EscalateLowConfidence(ctx context.Context, sess *model.Session, sample *model.Sample)
	EscalateProcessingError(ctx context.Context, sess *model.Session, item model.SourceItem, cause error)
}

type Config struct {
	HistoryDays           int
	PerDayItemCap         int
	ItemCostEstimateCents int64
	ConfidenceFloor       int
	FetchRetries          int
}

type Engine struct {
	sessions  SessionStore
	ledger    Ledger
	samples   SampleWriter
	escalator Escalator
	sources   source.Client
	extractor extraction.Engine
	registry  *Registry
	cfg       Config
	logger    *zap.Logger
}

func NewEngine(
	sessions SessionStore,
	ledger Ledger,
	samples SampleWriter,
	escalator Escalator,
	sources source.Client,
	extractor extraction.Engine,
	registry *Registry,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 365
	}
	if cfg.PerDayItemCap <= 0 {
		cfg.PerDayItemCap = 50
	}
	return &Engine{
		sessions:  sessions,
		ledger:    ledger,
		samples:   samples,
		escalator: escalator,
		sources:   sources,
		extractor: extractor,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

// Registry exposes the walker registry for cancel/active checks.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Cancel signals the session's walker, if any, to stop at its next poll.
func (e *Engine) Cancel(sessionID int64) {
	e.registry.Cancel(sessionID)
}

// Launch starts a background walker for the session. Launching while a walker
// is already live, or while the session is not running, is a safe no-op.
func (e *Engine) Launch(sess *model.Session) {
	if sess.Status != model.SessionRunning {
		e.logger.Info("Walker launch skipped, session not running",
			zap.Int64("session_id", sess.ID),
			zap.String("status", string(sess.Status)),
		)
		return
	}

	ctx, ok := e.registry.acquire(sess.ID)
	if !ok {
		e.logger.Info("Walker already active for session",
			zap.Int64("session_id", sess.ID),
		)
		return
	}

	go e.run(ctx, sess.ID)
}

func (e *Engine) run(ctx context.Context, sessionID int64) {
	defer e.registry.release(sessionID)

	log := e.logger.With(zap.Int64("session_id", sessionID))
	log.Info("Walker started")

	today := model.Day(time.Now())

	for daysAgo := 0; daysAgo < e.cfg.HistoryDays; daysAgo++ {
		// Re-read durable status before each new day. Pause and cancel are
		// cooperative: whatever unit is in flight finishes first.
		sess, err := e.sessions.FindByID(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Walker cancelled")
				return
			}
			log.Error("Failed to read session state, pausing", zap.Error(err))
			e.transition(sessionID, model.SessionPaused, "walker could not read session state")
			return
		}
		if sess.Status != model.SessionRunning {
			log.Info("Session no longer running, walker stopping",
				zap.String("status", string(sess.Status)),
			)
			return
		}

		date := today.AddDate(0, 0, -daysAgo)

		for _, sourceType := range model.SourceTypes {
			err := e.processDay(ctx, sess, sourceType, date, log)
			switch {
			case err == nil:
			case errors.Is(err, errDiscoveryExhausted):
				log.Info("Discovery budget exhausted, halting walker",
					zap.String("date", date.Format("2006-01-02")),
				)
				e.transition(sessionID, model.SessionBudgetExhausted, "discovery budget exhausted")
				return
			case errors.Is(err, context.Canceled) || ctx.Err() != nil:
				log.Info("Walker cancelled mid-walk",
					zap.String("date", date.Format("2006-01-02")),
				)
				return
			default:
				// Never die silently in running state.
				log.Error("Day processing failed, pausing session",
					zap.String("source_type", string(sourceType)),
					zap.String("date", date.Format("2006-01-02")),
					zap.Error(err),
				)
				reason := fmt.Sprintf("walker error on %s %s: %v", sourceType, date.Format("2006-01-02"), err)
				e.transition(sessionID, model.SessionPaused, reason)
				return
			}
		}
	}

	log.Info("History exhausted, session complete")
	e.transition(sessionID, model.SessionComplete, "history exhausted")
}

// transition flips the session status with a fresh context; the run context
// may already be cancelled when a terminal transition is due.
func (e *Engine) transition(sessionID int64, to model.SessionStatus, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := e.sessions.UpdateStatus(ctx, sessionID, to, reason); err != nil {
		e.logger.Error("Failed to transition session",
			zap.Int64("session_id", sessionID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
	}
}

// processDay handles one (source, day) unit: fetch, extract, persist, mark,
// debit. The day is marked processed only after its samples are saved, and the
// budget is debited only for work actually performed. When the budget runs out
// mid-day the items covered so far are persisted and the day is still marked:
// the uncovered remainder is skipped permanently rather than re-billed later.
func (e *Engine) processDay(ctx context.Context, sess *model.Session, sourceType model.SourceType, date time.Time, log *zap.Logger) error {
	start := time.Now()

	done, err := e.ledger.IsProcessed(ctx, sess.UserID, sourceType, date)
	if err != nil {
		return fmt.Errorf("ledger check failed: %w", err)
	}
	if done {
		log.Debug("Day already processed, skipping",
			zap.String("source_type", string(sourceType)),
			zap.String("date", date.Format("2006-01-02")),
		)
		return nil
	}

	items, err := e.fetchWithRetry(ctx, sess, sourceType, date, log)
	if err != nil {
		return fmt.Errorf("source fetch failed: %w", err)
	}

	acct := budget.NewAccountant(sess.Discovery.TotalCents, sess.Discovery.UsedCents)

	var samples []*model.Sample
	var costIncurred int64
	itemsSeen := 0  // loop position, including failed items
	itemsFound := 0 // items that yielded persisted work
	exhausted := false

	for _, item := range items {
		// Cancellation is polled per item; the in-flight item finishes.
		if err := ctx.Err(); err != nil {
			return err
		}

		if !acct.CanAfford(e.cfg.ItemCostEstimateCents) {
			exhausted = true
			log.Warn("Budget ran out mid-day, remaining items skipped permanently",
				zap.String("source_type", string(sourceType)),
				zap.String("date", date.Format("2006-01-02")),
				zap.Int("items_covered", itemsSeen),
				zap.Int("items_skipped", len(items)-itemsSeen),
			)
			break
		}

		result, err := e.extractor.Extract(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Per-item failures never abort the day.
			log.Warn("Extraction failed for item, skipping",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
			e.escalator.EscalateProcessingError(ctx, sess, item, err)
			itemsSeen++
			continue
		}

		cost := result.CostEstimateCents
		if cost > acct.Remaining() {
			// The actual price ran past the estimate; clamp the debit so
			// used never passes total, and stop the day here.
			cost = acct.Remaining()
			exhausted = true
		}
		if err := acct.Debit(cost); err != nil {
			return err
		}
		costIncurred += cost

		samples = append(samples, samplesFromResult(sess.ID, sourceType, date, item, result)...)
		itemsSeen++
		itemsFound++

		if exhausted {
			break
		}
	}

	// Persist before marking. A failure here aborts the day, not the walk
	// unit accounting: nothing is marked, nothing is debited.
	if len(samples) > 0 {
		if _, err := e.samples.CreateBatch(ctx, samples); err != nil {
			return fmt.Errorf("failed to persist samples: %w", err)
		}

		entityCount := 0
		for _, s := range samples {
			if s.Type == model.SampleEntity {
				entityCount++
			}
			if s.Prediction.Confidence < e.cfg.ConfidenceFloor {
				e.escalator.EscalateLowConfidence(ctx, sess, s)
			}
		}
		metrics.IncrementSamplesCollected(string(model.SampleEntity), entityCount)
		metrics.IncrementSamplesCollected(string(model.SampleRelationship), len(samples)-entityCount)
	}

	entry := &model.ProgressEntry{
		UserID:        sess.UserID,
		SessionID:     sess.ID,
		SourceType:    sourceType,
		ProcessedDate: date,
		ItemsFound:    itemsFound,
	}
	if err := e.ledger.MarkProcessed(ctx, entry); err != nil {
		return fmt.Errorf("failed to mark day processed: %w", err)
	}

	if costIncurred > 0 {
		if err := e.sessions.DebitDiscovery(ctx, sess.ID, costIncurred); err != nil {
			if errors.Is(err, model.ErrBudgetExhausted) {
				exhausted = true
			} else {
				return fmt.Errorf("failed to debit discovery budget: %w", err)
			}
		} else {
			metrics.AddBudgetDebit("discovery", costIncurred)
		}
		// Keep the local view current for the day's second source.
		sess.Discovery.UsedCents += costIncurred
	}

	outcome := "processed"
	if exhausted {
		outcome = "partial"
	}
	metrics.IncrementDaysProcessed(string(sourceType))
	metrics.RecordDayProcessLatency(string(sourceType), outcome, time.Since(start))

	log.Info("Day processed",
		zap.String("source_type", string(sourceType)),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("items_found", itemsFound),
		zap.Int("samples_created", len(samples)),
		zap.Int64("cost_cents", costIncurred),
	)

	if exhausted {
		return errDiscoveryExhausted
	}
	return nil
}

// fetchWithRetry pulls one day of items, retrying transient failures a small
// fixed number of times before giving up and letting the walk pause.
func (e *Engine) fetchWithRetry(ctx context.Context, sess *model.Session, sourceType model.SourceType, date time.Time, log *zap.Logger) ([]model.SourceItem, error) {
	from := date
	to := date.AddDate(0, 0, 1)

	var lastErr error
	for attempt := 0; attempt <= e.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		var items []model.SourceItem
		var err error
		switch sourceType {
		case model.SourceEmail:
			items, err = e.sources.FetchEmails(ctx, sess.UserID, from, to, e.cfg.PerDayItemCap)
		case model.SourceCalendar:
			items, err = e.sources.FetchCalendarEvents(ctx, sess.UserID, from, to, e.cfg.PerDayItemCap)
		default:
			return nil, fmt.Errorf("unknown source type: %s", sourceType)
		}
		if err == nil {
			return items, nil
		}

		lastErr = err
		retryable, errType := util.IsRetryableError(err)
		if !retryable {
			return nil, err
		}
		log.Warn("Source fetch failed, retrying",
			zap.String("source_type", string(sourceType)),
			zap.String("date", date.Format("2006-01-02")),
			zap.String("error_type", errType),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, lastErr
}

// samplesFromResult fans an extraction result out into pending review samples.
func samplesFromResult(sessionID int64, sourceType model.SourceType, date time.Time, item model.SourceItem, result *model.ExtractionResult) []*model.Sample {
	samples := make([]*model.Sample, 0, len(result.Entities)+len(result.Relationships))

	for _, ent := range result.Entities {
		ctxText := ent.Context
		if ctxText == "" {
			ctxText = item.Title
		}
		samples = append(samples, &model.Sample{
			SessionID: sessionID,
			Type:      model.SampleEntity,
			Content: model.SampleContent{
				Text:    ent.Text,
				Context: ctxText,
			},
			Prediction: model.SamplePrediction{
				Label:      ent.Label,
				Confidence: ent.Confidence,
				Reasoning:  ent.Reasoning,
			},
			Status:     model.SamplePending,
			SourceType: sourceType,
			SourceDate: date,
		})
	}

	for _, rel := range result.Relationships {
		ctxText := rel.Context
		if ctxText == "" {
			ctxText = item.Title
		}
		samples = append(samples, &model.Sample{
			SessionID: sessionID,
			Type:      model.SampleRelationship,
			Content: model.SampleContent{
				Text:    rel.Text(),
				Context: ctxText,
			},
			Prediction: model.SamplePrediction{
				Label:      rel.Label,
				Confidence: rel.Confidence,
				Reasoning:  rel.Reasoning,
			},
			Status:     model.SamplePending,
			SourceType: sourceType,
			SourceDate: date,
		})
	}

	return samples
}
