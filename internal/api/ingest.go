package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/recaphq/recap/internal/mention"
)

// Ingestor indexes a document's content for retrieval. *index.Ingestor
// satisfies it.
type Ingestor interface {
	IndexDocument(ctx context.Context, sourceID, userID, content string) (int, error)
}

// EntityWriter stores an entity's primary content for mention lookups.
// *index.EntitySource satisfies it.
type EntityWriter interface {
	Put(ctx context.Context, entityType, entityID, userID, content string) error
}

// ingestHandler serves content ingestion.
type ingestHandler struct {
	ingestor Ingestor
	entities EntityWriter
	logger   *slog.Logger
}

type ingestRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Content    string `json:"content"`
}

type ingestResponse struct {
	SourceID string `json:"source_id"`
	Chunks   int    `json:"chunks"`
}

// ingest handles POST /api/v1/documents: it stores the entity's primary
// content for mention resolution and indexes it for similarity search.
func (h *ingestHandler) ingest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ingestRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	m := mention.Mention{EntityType: req.EntityType, EntityID: req.EntityID, Start: 0, End: 1}
	if err := m.Validate(1); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_entity", err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}

	if err := h.entities.Put(r.Context(), req.EntityType, req.EntityID, userID, req.Content); err != nil {
		h.logger.Error("storing entity content", "error", err)
		writeError(w, http.StatusInternalServerError, "store_failed", "failed to store content")
		return
	}

	sourceID := m.SourceID()
	chunks, err := h.ingestor.IndexDocument(r.Context(), sourceID, userID, req.Content)
	if err != nil {
		h.logger.Error("indexing document", "error", err)
		writeError(w, http.StatusInternalServerError, "index_failed", "failed to index content")
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{SourceID: sourceID, Chunks: chunks})
}
