// Package vector stores transcript embeddings for later semantic retrieval.
// Rows are keyed by a content hash so identical transcripts are written once.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/rush86999/atom-meeting-worker/internal/logging"
)

const embeddingsTable = "meeting_transcript_embeddings"

// embeddingDims matches text-embedding-3-small.
const embeddingDims = 1536

// Embedding is one stored transcript embedding.
type Embedding struct {
	ContentHash string
	TaskID      string
	UserID      string
	MeetingID   string
	Vector      []float32
}

// HashContent derives the dedupe key for a transcript.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PgStore persists embeddings in Postgres via pgvector.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a pgvector-backed embedding store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the vector extension and the embeddings table.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    content_hash       TEXT PRIMARY KEY,
    task_id            TEXT NOT NULL DEFAULT '',
    user_id            TEXT NOT NULL DEFAULT '',
    meeting_identifier TEXT NOT NULL DEFAULT '',
    embedding          vector(%d),
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`, embeddingsTable, embeddingDims),
		`CREATE INDEX IF NOT EXISTS idx_transcript_embeddings_user ON ` + embeddingsTable + ` (user_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure embeddings schema: %w", err)
		}
	}
	return nil
}

// Upsert stores an embedding. A duplicate content hash is a no-op: the same
// transcript content is already indexed.
func (s *PgStore) Upsert(ctx context.Context, emb Embedding) error {
	if len(emb.Vector) != embeddingDims {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(emb.Vector), embeddingDims)
	}

	query := `INSERT INTO ` + embeddingsTable + `
    (content_hash, task_id, user_id, meeting_identifier, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (content_hash) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		emb.ContentHash, emb.TaskID, emb.UserID, emb.MeetingID, pgvector.NewVector(emb.Vector))
	if err != nil {
		return fmt.Errorf("upsert embedding for task %s: %w", emb.TaskID, err)
	}
	if tag.RowsAffected() == 0 {
		logging.Debug(logging.CategoryVector, "embedding already indexed hash=%s", emb.ContentHash)
	}
	return nil
}
