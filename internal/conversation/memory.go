package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// It mirrors PostgresStore semantics: contiguous sequences from 1 and
// append-only history.
type MemoryStore struct {
	mu       sync.Mutex
	owners   map[uuid.UUID]string
	messages map[uuid.UUID][]Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		owners:   make(map[uuid.UUID]string),
		messages: make(map[uuid.UUID][]Message),
	}
}

// CreateConversation starts an empty conversation owned by userID.
func (s *MemoryStore) CreateConversation(_ context.Context, userID string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.owners[id] = userID
	s.messages[id] = nil
	return id, nil
}

// Append adds a message with the next sequence number.
func (s *MemoryStore) Append(_ context.Context, conversationID uuid.UUID, role Role, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.owners[conversationID]; !ok {
		return Message{}, fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	msg := Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Sequence:       int32(len(s.messages[conversationID]) + 1),
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

// Tail returns the most recent messages in chronological order.
func (s *MemoryStore) Tail(_ context.Context, conversationID uuid.UUID, limit int32) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		return []Message{}, nil
	}

	all := s.messages[conversationID]
	start := len(all) - int(limit)
	if start < 0 {
		start = 0
	}
	tail := make([]Message, len(all)-start)
	copy(tail, all[start:])
	return tail, nil
}

// Owner returns the conversation's owning user id.
func (s *MemoryStore) Owner(conversationID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.owners[conversationID]
	return owner, ok
}
