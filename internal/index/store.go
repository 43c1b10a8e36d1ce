// Package index stores and searches embedded content chunks in PostgreSQL
// with pgvector. It is the system's retrieval index and the authorization
// boundary: every search is filtered to the requesting user's rows.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/recaphq/recap/internal/retrieval"
)

// Chunk is one embedded slice of a source document.
type Chunk struct {
	SourceID string
	Chunk    int
	UserID   string
	Text     string
	Vector   []float32
}

// Store implements retrieval.Index on PostgreSQL + pgvector.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Search returns up to limit chunks visible to the scope's user, ordered by
// cosine similarity to vector (best first). Scores are 1 - cosine distance.
// An empty scope entity list means all of the user's sources.
func (s *Store) Search(ctx context.Context, vector []float32, scope retrieval.Scope, limit int) ([]retrieval.Hit, error) {
	entityIDs := scope.EntityIDs
	if entityIDs == nil {
		entityIDs = []string{}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_id, chunk, content, 1 - (embedding <=> $1) AS score
		 FROM context_chunks
		 WHERE user_id = $2
		   AND (cardinality($3::text[]) = 0 OR source_id = ANY($3))
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		pgvector.NewVector(vector), scope.UserID, entityIDs, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Hit
	for rows.Next() {
		var h retrieval.Hit
		if err := rows.Scan(&h.SourceID, &h.Chunk, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading hits: %w", err)
	}

	s.logger.Debug("index searched", "user_id", scope.UserID, "hits", len(hits))
	return hits, nil
}

// Upsert writes chunks, replacing any existing (source_id, chunk) rows.
func (s *Store) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO context_chunks (source_id, chunk, user_id, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (source_id, chunk)
			 DO UPDATE SET user_id = EXCLUDED.user_id,
			               content = EXCLUDED.content,
			               embedding = EXCLUDED.embedding`,
			c.SourceID, c.Chunk, c.UserID, c.Text, pgvector.NewVector(c.Vector),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting chunk: %w", err)
		}
	}

	s.logger.Debug("chunks upserted", "count", len(chunks))
	return nil
}

// DeleteSource removes every chunk of a source, returning how many went.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM context_chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
