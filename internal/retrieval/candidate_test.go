package retrieval

import "testing"

func TestMerge_DedupeKeepsMaxScore(t *testing.T) {
	// The same chunk reached through two queries with scores 0.4 and 0.8
	// must appear once with score 0.8.
	listA := []Candidate{
		{SourceID: "doc-1", Chunk: 2, Text: "roadmap notes", Origin: OriginSearch, Score: 0.4},
	}
	listB := []Candidate{
		{SourceID: "doc-1", Chunk: 2, Text: "roadmap notes", Origin: OriginSearch, Score: 0.8},
	}

	merged := Merge(listA, listB)

	if len(merged) != 1 {
		t.Fatalf("got %d candidates, want 1", len(merged))
	}
	if merged[0].Score != 0.8 {
		t.Errorf("Score = %v, want 0.8 (max of duplicates)", merged[0].Score)
	}
}

func TestMerge_TiesKeepFirstSeenOrder(t *testing.T) {
	original := []Candidate{
		{SourceID: "doc-1", Chunk: 0, Score: 0.5},
	}
	expansion := []Candidate{
		{SourceID: "doc-2", Chunk: 0, Score: 0.5},
	}

	merged := Merge(original, expansion)

	if len(merged) != 2 {
		t.Fatalf("got %d candidates, want 2", len(merged))
	}
	if merged[0].SourceID != "doc-1" {
		t.Errorf("first candidate = %s, want doc-1 (original query wins ties)", merged[0].SourceID)
	}
}

func TestMerge_SortsByScoreAndAssignsRank(t *testing.T) {
	merged := Merge([]Candidate{
		{SourceID: "a", Chunk: 0, Score: 0.2},
		{SourceID: "b", Chunk: 0, Score: 0.9},
		{SourceID: "c", Chunk: 0, Score: 0.5},
	})

	wantOrder := []string{"b", "c", "a"}
	for i, want := range wantOrder {
		if merged[i].SourceID != want {
			t.Errorf("position %d = %s, want %s", i, merged[i].SourceID, want)
		}
		if merged[i].Rank != i {
			t.Errorf("candidate %s rank = %d, want %d", merged[i].SourceID, merged[i].Rank, i)
		}
	}
}

func TestMerge_DifferentChunksAreDistinct(t *testing.T) {
	merged := Merge([]Candidate{
		{SourceID: "doc-1", Chunk: 0, Score: 0.7},
		{SourceID: "doc-1", Chunk: 1, Score: 0.6},
	})

	if len(merged) != 2 {
		t.Errorf("got %d candidates, want 2 (chunk index is part of identity)", len(merged))
	}
}

func TestMerge_Empty(t *testing.T) {
	if got := Merge(); len(got) != 0 {
		t.Errorf("Merge() = %v, want empty", got)
	}
	if got := Merge(nil, []Candidate{}); len(got) != 0 {
		t.Errorf("Merge(nil, empty) = %v, want empty", got)
	}
}

func TestCandidateID(t *testing.T) {
	c := Candidate{SourceID: "meeting:42", Chunk: 3}
	if got := c.ID(); got != "meeting:42#3" {
		t.Errorf("ID() = %q, want %q", got, "meeting:42#3")
	}
}
