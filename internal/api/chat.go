package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/mention"
	"github.com/recaphq/recap/internal/turn"
)

// maxRequestBytes caps request bodies (1 MB).
const maxRequestBytes = 1024 * 1024

// Coordinator is the turn capability the handlers need.
// *turn.Coordinator satisfies it.
type Coordinator interface {
	Submit(ctx context.Context, conversationID uuid.UUID, userID, content string, mentions []mention.Mention) (*turn.Turn, error)
	Poll(ctx context.Context, conversationID uuid.UUID, afterSequence int32, interval, timeout time.Duration) (conversation.Message, error)
	Turn(id uuid.UUID) (*turn.Turn, error)
}

// chatHandler serves conversation and turn endpoints.
type chatHandler struct {
	coordinator  Coordinator
	history      conversation.Store
	pollInterval time.Duration
	pollTimeout  time.Duration
	tailLimit    int32
	logger       *slog.Logger
}

type createConversationResponse struct {
	ID uuid.UUID `json:"id"`
}

// createConversation handles POST /api/v1/conversations.
func (h *chatHandler) createConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, err := h.history.CreateConversation(r.Context(), userID)
	if err != nil {
		h.logger.Error("creating conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create conversation")
		return
	}
	writeJSON(w, http.StatusCreated, createConversationResponse{ID: id})
}

type mentionPayload struct {
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	OffsetStart int    `json:"offset_start"`
	OffsetEnd   int    `json:"offset_end"`
}

type submitRequest struct {
	Content  string           `json:"content"`
	Mentions []mentionPayload `json:"mentions"`
}

type submitResponse struct {
	TurnID        uuid.UUID `json:"turn_id"`
	UserMessageID uuid.UUID `json:"user_message_id"`
	Sequence      int32     `json:"sequence"`
	State         string    `json:"state"`
}

// submitMessage handles POST /api/v1/conversations/{id}/messages. It returns
// 202 as soon as the user message is durable; the reply arrives
// asynchronously and is fetched via the reply or messages endpoints.
func (h *chatHandler) submitMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req submitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	mentions := make([]mention.Mention, len(req.Mentions))
	for i, m := range req.Mentions {
		mentions[i] = mention.Mention{
			EntityType: m.EntityType,
			EntityID:   m.EntityID,
			Start:      m.OffsetStart,
			End:        m.OffsetEnd,
		}
	}

	t, err := h.coordinator.Submit(r.Context(), conversationID, userID, req.Content, mentions)
	switch {
	case errors.Is(err, turn.ErrEmptyMessage),
		errors.Is(err, mention.ErrInvalidSpan),
		errors.Is(err, mention.ErrInvalidEntityType):
		writeError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	case errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	case err != nil:
		h.logger.Error("submitting message", "error", err)
		writeError(w, http.StatusInternalServerError, "submit_failed", "failed to submit message")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{
		TurnID:        t.ID(),
		UserMessageID: t.UserMessage().ID,
		Sequence:      t.UserMessage().Sequence,
		State:         string(t.State()),
	})
}

type messagesResponse struct {
	Items []conversation.Message `json:"items"`
}

// listMessages handles GET /api/v1/conversations/{id}/messages?limit=N.
func (h *chatHandler) listMessages(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit := h.tailLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = int32(n)
	}

	messages, err := h.history.Tail(r.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("listing messages", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list messages")
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{Items: messages})
}

// getReply handles GET /api/v1/conversations/{id}/reply?after=N. It waits up
// to the configured poll timeout for an assistant message after the given
// sequence; 204 means nothing yet, try again.
func (h *chatHandler) getReply(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	conversationID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 32)
	if err != nil || after < 0 {
		writeError(w, http.StatusBadRequest, "invalid_after", "after must be a non-negative sequence number")
		return
	}

	msg, err := h.coordinator.Poll(r.Context(), conversationID, int32(after), h.pollInterval, h.pollTimeout)
	switch {
	case errors.Is(err, turn.ErrPollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		h.logger.Error("polling reply", "error", err)
		writeError(w, http.StatusInternalServerError, "poll_failed", "failed to poll for reply")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type turnResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ConversationID     uuid.UUID  `json:"conversation_id"`
	State              string     `json:"state"`
	AssistantMessageID *uuid.UUID `json:"assistant_message_id,omitempty"`
	Error              string     `json:"error,omitempty"`
}

// getTurn handles GET /api/v1/turns/{id}.
func (h *chatHandler) getTurn(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	turnID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.coordinator.Turn(turnID)
	if errors.Is(err, turn.ErrTurnNotFound) {
		writeError(w, http.StatusNotFound, "turn_not_found", "turn not found")
		return
	}
	if err != nil {
		h.logger.Error("looking up turn", "error", err)
		writeError(w, http.StatusInternalServerError, "turn_failed", "failed to look up turn")
		return
	}

	resp := turnResponse{
		ID:             t.ID(),
		ConversationID: t.ConversationID(),
		State:          string(t.State()),
	}
	if msg, ready := t.AssistantMessage(); ready {
		id := msg.ID
		resp.AssistantMessageID = &id
	}
	if err := t.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// pathUUID parses a UUID path value, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
