package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/recaphq/recap/internal/expand"
)

// Scope restricts a search to content the requesting user may read. The
// index enforces it; the retriever only carries it through.
type Scope struct {
	UserID string
	// EntityIDs optionally narrows the search to specific sources.
	// Empty means all sources visible to the user.
	EntityIDs []string
}

// Hit is a raw similarity-search result.
type Hit struct {
	SourceID string
	Chunk    int
	Text     string
	Score    float32
}

// Index is the vector search capability the retriever needs.
// *index.Store satisfies it.
type Index interface {
	Search(ctx context.Context, vector []float32, scope Scope, limit int) ([]Hit, error)
}

// QueryEmbedder embeds a single query string.
// *llm.Embedder satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs one embed-and-search per query in an expanded set,
// concurrently, and merges the results into a single ranked candidate list.
//
// Unlike expansion, retrieval failures are fatal to the stage: a turn
// answered without any search is worse than a visible error, so embedding
// and index errors propagate to the caller.
type Retriever struct {
	index    Index
	embedder QueryEmbedder
	topK     int
	logger   *slog.Logger
}

// New creates a Retriever returning at most topK candidates per call.
func New(index Index, embedder QueryEmbedder, topK int, logger *slog.Logger) (*Retriever, error) {
	if index == nil {
		return nil, errors.New("index is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be >= 1, got %d", topK)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: index, embedder: embedder, topK: topK, logger: logger}, nil
}

// Retrieve searches the index for every query in the set and returns the
// merged, deduplicated candidates ordered by score descending, truncated to
// topK. Ties keep the order queries appear in the set, so the original
// query's results win over its expansions.
//
// The first error from any per-query search cancels the remaining ones.
func (r *Retriever) Retrieve(ctx context.Context, set expand.Set, scope Scope) ([]Candidate, error) {
	if len(set) == 0 {
		return nil, errors.New("empty query set")
	}

	perQuery := make([][]Candidate, len(set))
	g, gctx := errgroup.WithContext(ctx)

	for i, q := range set {
		g.Go(func() error {
			vector, err := r.embedder.EmbedQuery(gctx, q.Text)
			if err != nil {
				return fmt.Errorf("embedding query %d: %w", i, err)
			}
			hits, err := r.index.Search(gctx, vector, scope, r.topK)
			if err != nil {
				return fmt.Errorf("searching query %d: %w", i, err)
			}

			candidates := make([]Candidate, len(hits))
			for j, h := range hits {
				candidates[j] = Candidate{
					SourceID: h.SourceID,
					Chunk:    h.Chunk,
					Text:     h.Text,
					Origin:   OriginSearch,
					Score:    h.Score,
				}
			}
			perQuery[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := Merge(perQuery...)
	if len(merged) > r.topK {
		merged = merged[:r.topK]
	}

	r.logger.Debug("retrieval finished",
		"queries", len(set),
		"candidates", len(merged),
	)
	return merged, nil
}
