package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/internal/model"
	"graphminer/pkg/outbox"
	"graphminer/pkg/trace"
)

const sessionColumns = `
	id, user_id, status, mode, status_reason,
	discovery_total, discovery_used, training_total, training_used,
	samples_collected, feedback_received, correct_count, exceptions_count, accuracy,
	created_at, updated_at, completed_at
`

type SessionRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		db:         db,
		outboxRepo: outbox.NewRepository(db),
	}
}

// Create inserts a new session in running state.
func (r *SessionRepository) Create(ctx context.Context, userID int64, mode model.SessionMode, discoveryTotal, trainingTotal int64) (*model.Session, error) {
	query := `
        INSERT INTO sessions (user_id, status, mode, discovery_total, training_total, created_at, updated_at)
        VALUES ($1, 'running', $2, $3, $4, NOW(), NOW())
        RETURNING ` + sessionColumns

	row := r.db.QueryRow(ctx, query, userID, mode, discoveryTotal, trainingTotal)
	return scanSession(row)
}

// FindByID returns a session by id.
func (r *SessionRepository) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindActiveByUser returns the user's session with completed_at IS NULL, if any.
func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID int64) (*model.Session, error) {
	query := `
        SELECT ` + sessionColumns + `
        FROM sessions
        WHERE user_id = $1 AND completed_at IS NULL
        ORDER BY created_at DESC
        LIMIT 1
    `

	s, err := scanSession(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindRunning returns every session in running state. Used on startup to
// re-attach walkers after a process restart.
func (r *SessionRepository) FindRunning(ctx context.Context) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'running' ORDER BY id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateStatus transitions a session and records a session.status_changed
// outbox event in the same transaction. Terminal transitions stamp completed_at.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id int64, to model.SessionStatus, reason string) (*model.Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldStatus model.SessionStatus
	err = tx.QueryRow(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&oldStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}

	query := `
        UPDATE sessions
        SET status = $1,
            status_reason = $2,
            updated_at = NOW(),
            completed_at = CASE WHEN $1 = 'complete' AND completed_at IS NULL THEN NOW() ELSE completed_at END
        WHERE id = $3
        RETURNING ` + sessionColumns

	s, err := scanSession(tx.QueryRow(ctx, query, to, reason, id))
	if err != nil {
		return nil, err
	}

	payload := mqcontracts.SessionStatusChangedPayload{
		SessionID: s.ID,
		UserID:    s.UserID,
		OldStatus: string(oldStatus),
		NewStatus: string(to),
		Reason:    reason,
		ChangedAt: time.Now(),
		TraceID:   trace.FromContext(ctx),
	}
	sessionID := s.ID
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "session", &sessionID, mqcontracts.RoutingKeySessionStatusChanged, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return s, nil
}

// DebitDiscovery spends costCents from the discovery budget. The update is
// conditional on remaining capacity so used can never pass total, even under
// concurrent writers.
func (r *SessionRepository) DebitDiscovery(ctx context.Context, id int64, costCents int64) error {
	return r.debit(ctx, id, "discovery_used", "discovery_total", costCents)
}

// DebitTraining spends costCents from the training budget.
func (r *SessionRepository) DebitTraining(ctx context.Context, id int64, costCents int64) error {
	return r.debit(ctx, id, "training_used", "training_total", costCents)
}

func (r *SessionRepository) debit(ctx context.Context, id int64, usedCol, totalCol string, costCents int64) error {
	query := fmt.Sprintf(`
        UPDATE sessions
        SET %s = %s + $1, updated_at = NOW()
        WHERE id = $2 AND %s + $1 <= %s
    `, usedCol, usedCol, usedCol, totalCol)

	tag, err := r.db.Exec(ctx, query, costCents, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the session is gone or the debit does not fit.
		if _, err := r.FindByID(ctx, id); err != nil {
			return err
		}
		return model.ErrBudgetExhausted
	}
	return nil
}

// TopUpDiscovery raises the discovery budget total by amountCents. The
// increment is atomic so concurrent top-ups are never lost.
func (r *SessionRepository) TopUpDiscovery(ctx context.Context, id int64, amountCents int64) (*model.Session, error) {
	return r.topUp(ctx, id, "discovery_total", amountCents)
}

// TopUpTraining raises the training budget total by amountCents.
func (r *SessionRepository) TopUpTraining(ctx context.Context, id int64, amountCents int64) (*model.Session, error) {
	return r.topUp(ctx, id, "training_total", amountCents)
}

func (r *SessionRepository) topUp(ctx context.Context, id int64, totalCol string, amountCents int64) (*model.Session, error) {
	query := fmt.Sprintf(`
        UPDATE sessions
        SET %s = %s + $1, updated_at = NOW()
        WHERE id = $2
        RETURNING `, totalCol, totalCol) + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, amountCents, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// RecomputeCounters rebuilds the aggregate counters from the underlying rows.
// Used by periodic reconciliation, not on the write path.
func (r *SessionRepository) RecomputeCounters(ctx context.Context, id int64) (*model.Session, error) {
	query := `
        UPDATE sessions s
        SET samples_collected = agg.samples,
            feedback_received = agg.reviewed,
            correct_count     = agg.correct,
            accuracy          = CASE WHEN agg.reviewed = 0 THEN 0
                                     ELSE agg.correct::float8 / agg.reviewed * 100 END,
            updated_at = NOW()
        FROM (
            SELECT
                COUNT(*)                                              AS samples,
                COUNT(*) FILTER (WHERE status = 'reviewed')           AS reviewed,
                COUNT(*) FILTER (WHERE status = 'reviewed'
                                 AND feedback_is_correct)             AS correct
            FROM samples
            WHERE session_id = $1
        ) agg
        WHERE s.id = $1
        RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Status,
		&s.Mode,
		&s.StatusReason,
		&s.Discovery.TotalCents,
		&s.Discovery.UsedCents,
		&s.Training.TotalCents,
		&s.Training.UsedCents,
		&s.SamplesCollected,
		&s.FeedbackReceived,
		&s.CorrectCount,
		&s.ExceptionsCount,
		&s.Accuracy,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
