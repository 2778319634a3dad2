package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"graphminer/internal/model"
)

// ProgressRepository is the day ledger: the idempotency record of which
// (user, source, day) units of work are already complete.
type ProgressRepository struct {
	db *pgxpool.Pool
}

func NewProgressRepository(db *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// IsProcessed reports whether the (user, source, day) triple is already done.
func (r *ProgressRepository) IsProcessed(ctx context.Context, userID int64, sourceType model.SourceType, date time.Time) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM progress_entries
            WHERE user_id = $1 AND source_type = $2 AND processed_date = $3
        )
    `
	var exists bool
	err := r.db.QueryRow(ctx, query, userID, sourceType, model.Day(date)).Scan(&exists)
	return exists, err
}

// MarkProcessed records a completed (user, source, day) unit. The unique
// constraint on the triple makes a duplicate mark a no-op, so a crashed and
// restarted walker never double-records a day.
func (r *ProgressRepository) MarkProcessed(ctx context.Context, entry *model.ProgressEntry) error {
	query := `
        INSERT INTO progress_entries (user_id, session_id, source_type, processed_date, items_found, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (user_id, source_type, processed_date) DO NOTHING
    `
	_, err := r.db.Exec(ctx, query,
		entry.UserID,
		entry.SessionID,
		entry.SourceType,
		model.Day(entry.ProcessedDate),
		entry.ItemsFound,
	)
	return err
}

// Progress returns the distinct processed day count and total items found for
// a session, for status reporting.
func (r *ProgressRepository) Progress(ctx context.Context, sessionID int64) (daysProcessed int, itemsFound int, err error) {
	query := `
        SELECT COUNT(DISTINCT processed_date), COALESCE(SUM(items_found), 0)
        FROM progress_entries
        WHERE session_id = $1
    `
	err = r.db.QueryRow(ctx, query, sessionID).Scan(&daysProcessed, &itemsFound)
	return daysProcessed, itemsFound, err
}
