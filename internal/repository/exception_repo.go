package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	mqcontracts "graphminer/contracts/mq"
	"graphminer/internal/model"
	"graphminer/pkg/outbox"
	"graphminer/pkg/trace"
)

const exceptionColumns = `
	id, session_id, user_id, sample_id, type, severity, status, message,
	item_text, item_context, created_at, updated_at
`

type ExceptionRepository struct {
	db         *pgxpool.Pool
	outboxRepo *outbox.Repository
}

func NewExceptionRepository(db *pgxpool.Pool) *ExceptionRepository {
	return &ExceptionRepository{
		db:         db,
		outboxRepo: outbox.NewRepository(db),
	}
}

// Create inserts the exception, bumps the session's exceptions_count, and
// queues the exception.flagged outbox event, all in one transaction. Alert
// delivery itself happens asynchronously in the worker.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO exceptions (session_id, user_id, sample_id, type, severity, status, message,
                                item_text, item_context, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	err = tx.QueryRow(ctx, query,
		exc.SessionID,
		exc.UserID,
		exc.SampleID,
		exc.Type,
		exc.Severity,
		exc.Message,
		exc.ItemText,
		exc.ItemContext,
	).Scan(&exc.ID, &exc.CreatedAt, &exc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert exception: %w", err)
	}
	exc.Status = model.ExceptionPending

	_, err = tx.Exec(ctx, `
        UPDATE sessions
        SET exceptions_count = exceptions_count + 1, updated_at = NOW()
        WHERE id = $1
    `, exc.SessionID)
	if err != nil {
		return fmt.Errorf("failed to bump exceptions_count: %w", err)
	}

	payload := mqcontracts.ExceptionFlaggedPayload{
		ExceptionID: exc.ID,
		SessionID:   exc.SessionID,
		UserID:      exc.UserID,
		SampleID:    exc.SampleID,
		Type:        string(exc.Type),
		Severity:    string(exc.Severity),
		Message:     exc.Message,
		ItemText:    exc.ItemText,
		CreatedAt:   exc.CreatedAt,
		TraceID:     trace.FromContext(ctx),
	}
	excID := exc.ID
	if err := outbox.InsertEventInTx(ctx, tx, r.outboxRepo, "exception", &excID, mqcontracts.RoutingKeyExceptionFlagged, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByID returns an exception by id.
func (r *ExceptionRepository) FindByID(ctx context.Context, id int64) (*model.Exception, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE id = $1`

	e, err := scanException(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrExceptionNotFound
		}
		return nil, err
	}
	return e, nil
}

// List returns exceptions for a session, newest first, optionally filtered by status.
func (r *ExceptionRepository) List(ctx context.Context, sessionID int64, status model.ExceptionStatus) ([]*model.Exception, error) {
	query := `
        SELECT ` + exceptionColumns + `
        FROM exceptions
        WHERE session_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC
    `

	rows, err := r.db.Query(ctx, query, sessionID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exceptions := []*model.Exception{}
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		exceptions = append(exceptions, e)
	}
	return exceptions, rows.Err()
}

// UpdateStatus resolves an exception (reviewed or dismissed).
func (r *ExceptionRepository) UpdateStatus(ctx context.Context, id int64, status model.ExceptionStatus) (*model.Exception, error) {
	query := `
        UPDATE exceptions
        SET status = $1, updated_at = NOW()
        WHERE id = $2
        RETURNING ` + exceptionColumns

	e, err := scanException(r.db.QueryRow(ctx, query, status, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrExceptionNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanException(row rowScanner) (*model.Exception, error) {
	var e model.Exception
	err := row.Scan(
		&e.ID,
		&e.SessionID,
		&e.UserID,
		&e.SampleID,
		&e.Type,
		&e.Severity,
		&e.Status,
		&e.Message,
		&e.ItemText,
		&e.ItemContext,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
