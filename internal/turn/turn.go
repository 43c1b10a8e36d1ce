// Package turn coordinates a chat turn: mention resolution, query expansion,
// retrieval, context selection, and the final completion, run asynchronously
// behind a submit-then-poll protocol.
package turn

import (
	"sync"

	"github.com/google/uuid"

	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/optimize"
)

// State is a turn's lifecycle phase.
type State string

const (
	// StateSubmitted means the user message is durably stored and the
	// pipeline has not started producing yet.
	StateSubmitted State = "submitted"
	// StateGenerating means the pipeline is running.
	StateGenerating State = "generating"
	// StateReady means the assistant message is appended and readable.
	StateReady State = "ready"
	// StateFailed means the pipeline hit a fatal error; the user message
	// remains in history.
	StateFailed State = "failed"
)

// Turn tracks one submitted message through the pipeline. All accessors are
// safe for concurrent use; transitions happen only on the coordinator's
// pipeline goroutine.
type Turn struct {
	id             uuid.UUID
	conversationID uuid.UUID
	userMessage    conversation.Message

	mu        sync.RWMutex
	state     State
	assistant conversation.Message
	context   optimize.Set
	err       error
	done      chan struct{}
}

func newTurn(userMessage conversation.Message) *Turn {
	return &Turn{
		id:             uuid.New(),
		conversationID: userMessage.ConversationID,
		userMessage:    userMessage,
		state:          StateSubmitted,
		done:           make(chan struct{}),
	}
}

// ID returns the turn id.
func (t *Turn) ID() uuid.UUID { return t.id }

// ConversationID returns the conversation the turn belongs to.
func (t *Turn) ConversationID() uuid.UUID { return t.conversationID }

// UserMessage returns the durably stored user message that started the turn.
func (t *Turn) UserMessage() conversation.Message { return t.userMessage }

// State returns the current lifecycle phase.
func (t *Turn) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Err returns the fatal error of a failed turn, nil otherwise.
func (t *Turn) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// AssistantMessage returns the assistant reply once the turn is ready.
func (t *Turn) AssistantMessage() (conversation.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.assistant, t.state == StateReady
}

// Context returns the optimized context set used for the completion.
func (t *Turn) Context() optimize.Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.context
}

// Done returns a channel closed when the turn reaches Ready or Failed.
func (t *Turn) Done() <-chan struct{} { return t.done }

func (t *Turn) setGenerating() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateGenerating
}

func (t *Turn) succeed(assistant conversation.Message, ctx optimize.Set) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateReady
	t.assistant = assistant
	t.context = ctx
	close(t.done)
}

func (t *Turn) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateFailed
	t.err = err
	close(t.done)
}
