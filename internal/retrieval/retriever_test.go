package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/recaphq/recap/internal/expand"
)

// mockIndex returns scripted hits keyed by the first element of the query
// vector.
type mockIndex struct {
	mu      sync.Mutex
	hits    map[float32][]Hit
	err     error
	calls   int
	lastK   int
	lastUID string
}

func (m *mockIndex) Search(_ context.Context, vector []float32, scope Scope, limit int) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastK = limit
	m.lastUID = scope.UserID
	if m.err != nil {
		return nil, m.err
	}
	return m.hits[vector[0]], nil
}

// mockQueryEmbedder maps query text to a one-element vector.
type mockQueryEmbedder struct {
	keys map[string]float32
	err  error
}

func (m *mockQueryEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []float32{m.keys[text]}, nil
}

func TestRetrieve_MergesAcrossQueries(t *testing.T) {
	embedder := &mockQueryEmbedder{keys: map[string]float32{
		"original": 1, "alternate": 2,
	}}
	index := &mockIndex{hits: map[float32][]Hit{
		1: {
			{SourceID: "doc-1", Chunk: 0, Text: "alpha", Score: 0.9},
			{SourceID: "doc-2", Chunk: 0, Text: "beta", Score: 0.4},
		},
		2: {
			{SourceID: "doc-2", Chunk: 0, Text: "beta", Score: 0.7},
			{SourceID: "doc-3", Chunk: 0, Text: "gamma", Score: 0.5},
		},
	}}

	r, err := New(index, embedder, 20, nil)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	set := expand.Set{{Text: "original"}, {Text: "alternate"}}
	got, err := r.Retrieve(context.Background(), set, Scope{UserID: "u-1"})
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3: %+v", len(got), got)
	}
	// doc-2 appears in both result lists; its merged score is the max (0.7).
	wantOrder := []struct {
		id    string
		score float32
	}{
		{"doc-1", 0.9}, {"doc-2", 0.7}, {"doc-3", 0.5},
	}
	for i, want := range wantOrder {
		if got[i].SourceID != want.id || got[i].Score != want.score {
			t.Errorf("candidate %d = %s/%v, want %s/%v",
				i, got[i].SourceID, got[i].Score, want.id, want.score)
		}
		if got[i].Origin != OriginSearch {
			t.Errorf("candidate %d origin = %s, want %s", i, got[i].Origin, OriginSearch)
		}
	}
	if index.calls != 2 {
		t.Errorf("index calls = %d, want 2 (one per query)", index.calls)
	}
	if index.lastUID != "u-1" {
		t.Errorf("scope user = %q, want u-1", index.lastUID)
	}
}

func TestRetrieve_TruncatesToTopK(t *testing.T) {
	embedder := &mockQueryEmbedder{keys: map[string]float32{"q": 1}}
	index := &mockIndex{hits: map[float32][]Hit{
		1: {
			{SourceID: "a", Chunk: 0, Score: 0.9},
			{SourceID: "b", Chunk: 0, Score: 0.8},
			{SourceID: "c", Chunk: 0, Score: 0.7},
		},
	}}

	r, _ := New(index, embedder, 2, nil)
	got, err := r.Retrieve(context.Background(), expand.Set{{Text: "q"}}, Scope{})
	if err != nil {
		t.Fatalf("Retrieve() = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d candidates, want 2 (topK)", len(got))
	}
}

func TestRetrieve_EmbedErrorIsFatal(t *testing.T) {
	wantErr := errors.New("embedding service down")
	embedder := &mockQueryEmbedder{err: wantErr}
	index := &mockIndex{}

	r, _ := New(index, embedder, 5, nil)
	_, err := r.Retrieve(context.Background(), expand.Set{{Text: "q"}}, Scope{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Retrieve() = %v, want wrapped %v", err, wantErr)
	}
}

func TestRetrieve_SearchErrorIsFatal(t *testing.T) {
	wantErr := errors.New("index unavailable")
	embedder := &mockQueryEmbedder{keys: map[string]float32{"q": 1}}
	index := &mockIndex{err: wantErr}

	r, _ := New(index, embedder, 5, nil)
	_, err := r.Retrieve(context.Background(), expand.Set{{Text: "q"}}, Scope{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Retrieve() = %v, want wrapped %v", err, wantErr)
	}
}

func TestRetrieve_EmptySet(t *testing.T) {
	r, _ := New(&mockIndex{}, &mockQueryEmbedder{}, 5, nil)
	if _, err := r.Retrieve(context.Background(), expand.Set{}, Scope{}); err == nil {
		t.Error("Retrieve(empty set) = nil, want error")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, &mockQueryEmbedder{}, 5, nil); err == nil {
		t.Error("New(nil index) = nil, want error")
	}
	if _, err := New(&mockIndex{}, nil, 5, nil); err == nil {
		t.Error("New(nil embedder) = nil, want error")
	}
	if _, err := New(&mockIndex{}, &mockQueryEmbedder{}, 0, nil); err == nil {
		t.Error("New(topK=0) = nil, want error")
	}
}
