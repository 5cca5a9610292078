package status

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

const statusTable = "meeting_attendance_status"

// PostgresStore implements Store backed by Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a Postgres-backed status store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the status table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("status store not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + statusTable + ` (
    task_id                TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL DEFAULT '',
    platform               TEXT NOT NULL DEFAULT '',
    meeting_identifier     TEXT NOT NULL DEFAULT '',
    status_timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
    current_status_message TEXT NOT NULL DEFAULT '',
    error_details          TEXT NOT NULL DEFAULT '',
    final_notion_page_url  TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_meeting_status_user ON ` + statusTable + ` (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_meeting_status_message ON ` + statusTable + ` (current_status_message)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure status schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces the status row for rec.TaskID. Re-submission of
// a task id resets its record.
func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	query := `INSERT INTO ` + statusTable + `
    (task_id, user_id, platform, meeting_identifier, status_timestamp,
     current_status_message, error_details, final_notion_page_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (task_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    platform = EXCLUDED.platform,
    meeting_identifier = EXCLUDED.meeting_identifier,
    status_timestamp = EXCLUDED.status_timestamp,
    current_status_message = EXCLUDED.current_status_message,
    error_details = EXCLUDED.error_details,
    final_notion_page_url = EXCLUDED.final_notion_page_url`

	_, err := s.pool.Exec(ctx, query,
		rec.TaskID, rec.UserID, rec.Platform, rec.MeetingID, rec.Timestamp,
		string(rec.Status), rec.ErrorDetails, rec.FinalNoteURL)
	if err != nil {
		return fmt.Errorf("upsert status for task %s: %w", rec.TaskID, err)
	}

	logging.Debug(logging.CategoryStatus, "status updated taskID=%s status=%s", rec.TaskID, rec.Status)
	return nil
}
