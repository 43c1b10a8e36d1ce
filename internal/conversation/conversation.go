// Package conversation stores durable, append-only chat history.
//
// Messages carry a per-conversation sequence number assigned under a row
// lock, so history order is total and stable. Nothing here ever updates or
// deletes a message; correction happens by appending.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNotFound indicates the conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Message is one entry of a conversation's history.
type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Sequence       int32     `json:"sequence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the history capability the rest of the system consumes. The turn
// coordinator is the only writer during a turn; API handlers read.
type Store interface {
	// CreateConversation starts an empty conversation owned by userID.
	CreateConversation(ctx context.Context, userID string) (uuid.UUID, error)

	// Append durably adds a message and returns it with its assigned
	// sequence number. Sequences are contiguous from 1 per conversation.
	Append(ctx context.Context, conversationID uuid.UUID, role Role, content string) (Message, error)

	// Tail returns the most recent messages in chronological order,
	// at most limit of them.
	Tail(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Message, error)
}
