package testutil

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/recaphq/recap/internal/index"
	"github.com/recaphq/recap/internal/retrieval"
)

// MemoryIndex is an in-memory vector index implementing both
// retrieval.Index and index.ChunkWriter. Search scores are cosine
// similarity, matching the production store's 1 - cosine distance.
//
// Thread-safe for concurrent use.
type MemoryIndex struct {
	mu     sync.Mutex
	chunks map[retrieval.Identity]index.Chunk
	err    error
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[retrieval.Identity]index.Chunk)}
}

// FailWith makes every subsequent Search or Upsert return err (nil
// restores).
func (m *MemoryIndex) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Upsert stores chunks, replacing existing (source, chunk) entries.
func (m *MemoryIndex) Upsert(_ context.Context, chunks []index.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, c := range chunks {
		m.chunks[retrieval.Identity{SourceID: c.SourceID, Chunk: c.Chunk}] = c
	}
	return nil
}

// Len returns the number of stored chunks.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// Search returns up to limit hits visible to the scope's user, best cosine
// similarity first.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, scope retrieval.Scope, limit int) ([]retrieval.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	allowed := make(map[string]struct{}, len(scope.EntityIDs))
	for _, id := range scope.EntityIDs {
		allowed[id] = struct{}{}
	}

	var hits []retrieval.Hit
	for _, c := range m.chunks {
		if c.UserID != scope.UserID {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[c.SourceID]; !ok {
				continue
			}
		}
		hits = append(hits, retrieval.Hit{
			SourceID: c.SourceID,
			Chunk:    c.Chunk,
			Text:     c.Text,
			Score:    cosine(vector, c.Vector),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// cosine returns the cosine similarity of two vectors, 0 for mismatched or
// zero-length inputs.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
