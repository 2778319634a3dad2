package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"graphminer/internal/model"
)

const sampleColumns = `
	id, session_id, type, content_text, content_context,
	prediction_label, prediction_confidence, prediction_reasoning,
	status, feedback_is_correct, feedback_corrected_label, feedback_notes, feedback_at,
	source_type, source_date, created_at, updated_at
`

// SampleFilter narrows sample listings.
type SampleFilter struct {
	Status model.SampleStatus
	Type   model.SampleType
	Limit  int
	Offset int
}

type SampleRepository struct {
	db *pgxpool.Pool
}

func NewSampleRepository(db *pgxpool.Pool) *SampleRepository {
	return &SampleRepository{db: db}
}

// CreateBatch inserts samples and bumps the session's samples_collected in one
// transaction so the counter never drifts from the rows.
func (r *SampleRepository) CreateBatch(ctx context.Context, samples []*model.Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO samples (session_id, type, content_text, content_context,
                             prediction_label, prediction_confidence, prediction_reasoning,
                             status, source_type, source_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `

	for _, s := range samples {
		err := tx.QueryRow(ctx, query,
			s.SessionID,
			s.Type,
			s.Content.Text,
			s.Content.Context,
			s.Prediction.Label,
			s.Prediction.Confidence,
			s.Prediction.Reasoning,
			s.SourceType,
			model.Day(s.SourceDate),
		).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("failed to insert sample: %w", err)
		}
		s.Status = model.SamplePending
	}

	_, err = tx.Exec(ctx, `
        UPDATE sessions
        SET samples_collected = samples_collected + $1, updated_at = NOW()
        WHERE id = $2
    `, len(samples), samples[0].SessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to bump samples_collected: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(samples), nil
}

// FindByID returns a sample by id.
func (r *SampleRepository) FindByID(ctx context.Context, id string) (*model.Sample, error) {
	query := `SELECT ` + sampleColumns + ` FROM samples WHERE id = $1`

	s, err := scanSample(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSampleNotFound
		}
		return nil, err
	}
	return s, nil
}

// SubmitFeedback flips a pending sample to reviewed, debits the training
// budget, and updates the session's feedback counters and accuracy, all in one
// transaction. A sample that is no longer pending yields ErrAlreadyReviewed; a
// training debit that does not fit yields ErrBudgetExhausted and leaves the
// sample untouched.
func (r *SampleRepository) SubmitFeedback(ctx context.Context, sampleID string, isCorrect bool, correctedLabel, notes *string, reviewCostCents int64) (*model.Sample, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sessionID int64
	var status model.SampleStatus
	err = tx.QueryRow(ctx, `
        SELECT session_id, status FROM samples WHERE id = $1 FOR UPDATE
    `, sampleID).Scan(&sessionID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSampleNotFound
		}
		return nil, err
	}
	if status != model.SamplePending {
		return nil, model.ErrAlreadyReviewed
	}

	if reviewCostCents > 0 {
		tag, err := tx.Exec(ctx, `
            UPDATE sessions
            SET training_used = training_used + $1, updated_at = NOW()
            WHERE id = $2 AND training_used + $1 <= training_total
        `, reviewCostCents, sessionID)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, model.ErrBudgetExhausted
		}
	}

	query := `
        UPDATE samples
        SET status = 'reviewed',
            feedback_is_correct = $1,
            feedback_corrected_label = $2,
            feedback_notes = $3,
            feedback_at = NOW(),
            updated_at = NOW()
        WHERE id = $4
        RETURNING ` + sampleColumns

	s, err := scanSample(tx.QueryRow(ctx, query, isCorrect, correctedLabel, notes, sampleID))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE sessions
        SET feedback_received = feedback_received + 1,
            correct_count = correct_count + CASE WHEN $1 THEN 1 ELSE 0 END,
            accuracy = (correct_count + CASE WHEN $1 THEN 1 ELSE 0 END)::float8
                       / (feedback_received + 1) * 100,
            updated_at = NOW()
        WHERE id = $2
    `, isCorrect, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to update feedback counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, nil
}

// Skip flips a pending sample to skipped. Skips are free and do not count as
// feedback.
func (r *SampleRepository) Skip(ctx context.Context, sampleID string) (*model.Sample, error) {
	query := `
        UPDATE samples
        SET status = 'skipped', updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
        RETURNING ` + sampleColumns

	s, err := scanSample(r.db.QueryRow(ctx, query, sampleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, findErr := r.FindByID(ctx, sampleID); findErr != nil {
				return nil, findErr
			}
			return nil, model.ErrAlreadyReviewed
		}
		return nil, err
	}
	return s, nil
}

// NextPending returns the oldest pending sample for a session, or
// ErrSampleNotFound when the review queue is empty.
func (r *SampleRepository) NextPending(ctx context.Context, sessionID int64) (*model.Sample, error) {
	query := `
        SELECT ` + sampleColumns + `
        FROM samples
        WHERE session_id = $1 AND status = 'pending'
        ORDER BY created_at ASC
        LIMIT 1
    `

	s, err := scanSample(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSampleNotFound
		}
		return nil, err
	}
	return s, nil
}

// List returns a page of samples plus the total match count.
func (r *SampleRepository) List(ctx context.Context, sessionID int64, filter SampleFilter) ([]*model.Sample, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	where := `WHERE session_id = $1`
	args := []any{sessionID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where += fmt.Sprintf(" AND type = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM samples `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`
        SELECT %s FROM samples %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d
    `, sampleColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	samples := []*model.Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, 0, err
		}
		samples = append(samples, s)
	}
	return samples, total, rows.Err()
}

// HasConflictingReview reports whether an earlier reviewed sample with the
// same content and predicted label received the opposite verdict.
func (r *SampleRepository) HasConflictingReview(ctx context.Context, sessionID int64, contentText, predictionLabel string, isCorrect bool) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM samples
            WHERE session_id = $1
              AND content_text = $2
              AND prediction_label = $3
              AND status = 'reviewed'
              AND feedback_is_correct IS DISTINCT FROM $4
        )
    `
	var exists bool
	err := r.db.QueryRow(ctx, query, sessionID, contentText, predictionLabel, isCorrect).Scan(&exists)
	return exists, err
}

func scanSample(row rowScanner) (*model.Sample, error) {
	var s model.Sample
	var fbCorrect *bool
	var fbLabel, fbNotes *string
	var fbAt *time.Time
	err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.Type,
		&s.Content.Text,
		&s.Content.Context,
		&s.Prediction.Label,
		&s.Prediction.Confidence,
		&s.Prediction.Reasoning,
		&s.Status,
		&fbCorrect,
		&fbLabel,
		&fbNotes,
		&fbAt,
		&s.SourceType,
		&s.SourceDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fbCorrect != nil && fbAt != nil {
		s.Feedback = &model.SampleFeedback{
			IsCorrect:      *fbCorrect,
			CorrectedLabel: fbLabel,
			Notes:          fbNotes,
			FeedbackAt:     *fbAt,
		}
	}
	return &s, nil
}
