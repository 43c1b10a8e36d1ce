package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recaphq/recap/internal/mention"
)

// EntitySource implements mention.ContentSource on the entity_documents
// table: the primary content of meetings, projects, and documents, with an
// owner check per lookup.
type EntitySource struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewEntitySource creates an EntitySource.
func NewEntitySource(pool *pgxpool.Pool, logger *slog.Logger) (*EntitySource, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntitySource{pool: pool, logger: logger}, nil
}

// LookupContent returns the entity's primary content if userID may read it.
// Missing entities yield mention.ErrNotFound; entities owned by someone else
// yield mention.ErrForbidden.
func (s *EntitySource) LookupContent(ctx context.Context, entityType, entityID, userID string) (string, error) {
	var content, owner string
	err := s.pool.QueryRow(ctx,
		`SELECT content, user_id FROM entity_documents
		 WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&content, &owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", entityType, entityID, mention.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("looking up entity content: %w", err)
	}
	if owner != userID {
		return "", fmt.Errorf("%s %s: %w", entityType, entityID, mention.ErrForbidden)
	}
	return content, nil
}

// Put stores or replaces an entity's primary content.
func (s *EntitySource) Put(ctx context.Context, entityType, entityID, userID, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_documents (entity_type, entity_id, user_id, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_type, entity_id)
		 DO UPDATE SET user_id = EXCLUDED.user_id,
		               content = EXCLUDED.content,
		               updated_at = now()`,
		entityType, entityID, userID, content,
	)
	if err != nil {
		return fmt.Errorf("storing entity content: %w", err)
	}
	s.logger.Debug("entity content stored", "entity_type", entityType, "entity_id", entityID)
	return nil
}
