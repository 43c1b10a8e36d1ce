package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
)

// VectorDimension is the embedding dimensionality used across the system.
// The pgvector schema in db/migrations declares vector(768); embedders must
// be configured to produce vectors of this length, it is never inferred per
// call.
const VectorDimension = 768

// ErrEmptyEmbedding indicates the embedding call returned no vectors.
var ErrEmptyEmbedding = errors.New("empty embedding response")

// Embedder wraps a Genkit ai.Embedder with query and batched document
// embedding. Embedding failures propagate to the caller: retrieval cannot
// proceed without vectors, so there is no degraded fallback here.
//
// Embedder is safe for concurrent use by multiple goroutines.
type Embedder struct {
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewEmbedder creates an Embedder around the given Genkit embedder.
func NewEmbedder(embedder ai.Embedder, logger *slog.Logger) (*Embedder, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{embedder: embedder, logger: logger}, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in a single batched call, returning one vector
// per input in input order. Empty input returns an empty result with no
// network call.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embedding %d documents: %w", len(texts), err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs",
			ErrEmptyEmbedding, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: vector %d is empty", ErrEmptyEmbedding, i)
		}
		vectors[i] = emb.Embedding
	}

	e.logger.Debug("embedded documents", "count", len(texts))
	return vectors, nil
}
