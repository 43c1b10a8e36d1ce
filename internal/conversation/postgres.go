package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
//
// Append runs in a transaction holding the conversation row lock while the
// next sequence number is computed, so concurrent appends to the same
// conversation serialize instead of colliding.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// CreateConversation starts an empty conversation owned by userID.
func (s *PostgresStore) CreateConversation(ctx context.Context, userID string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id) VALUES ($1, $2)`,
		id, userID,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("conversation created", "conversation_id", id, "user_id", userID)
	return id, nil
}

// Append durably adds a message with the next sequence number.
func (s *PostgresStore) Append(ctx context.Context, conversationID uuid.UUID, role Role, content string) (Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	err = tx.QueryRow(ctx,
		`SELECT user_id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return Message{}, fmt.Errorf("locking conversation: %w", err)
	}

	msg := Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, sequence)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE conversation_id = $2))
		 RETURNING sequence, created_at`,
		msg.ID, conversationID, string(role), content,
	).Scan(&msg.Sequence, &msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	)
	if err != nil {
		return Message{}, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", conversationID,
		"role", role,
		"sequence", msg.Sequence,
	)
	return msg, nil
}

// Tail returns the most recent messages in chronological order.
func (s *PostgresStore) Tail(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Message, error) {
	if limit < 1 {
		return []Message{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, role, content, sequence, created_at
		 FROM (
		   SELECT id, conversation_id, role, content, sequence, created_at
		   FROM messages
		   WHERE conversation_id = $1
		   ORDER BY sequence DESC
		   LIMIT $2
		 ) recent
		 ORDER BY sequence ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history tail: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history tail: %w", err)
	}
	return messages, nil
}
