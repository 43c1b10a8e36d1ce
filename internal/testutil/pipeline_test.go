package testutil_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/expand"
	"github.com/recaphq/recap/internal/index"
	"github.com/recaphq/recap/internal/llm"
	"github.com/recaphq/recap/internal/mention"
	"github.com/recaphq/recap/internal/optimize"
	"github.com/recaphq/recap/internal/retrieval"
	"github.com/recaphq/recap/internal/testutil"
	"github.com/recaphq/recap/internal/turn"
)

// TestFullPipeline wires the real pipeline components against the package's
// test doubles: ingestion through the mock embedder into the in-memory
// index, then a full submit-and-poll turn through the mock model.
func TestFullPipeline(t *testing.T) {
	ctx := context.Background()
	g := genkit.Init(ctx)

	mockLLM := testutil.NewMockLLM("Based on the plan, two launches moved to Q4.")
	mockLLM.AddResponse("alternate phrasings", "quarterly plan changes\nroadmap updates")
	mockLLM.AddResponse("candidates:", `[{"id": "document:plan#0", "reason": "covers the question"}]`)
	mockLLM.RegisterModel(g)

	mockEmb := testutil.NewMockEmbedder(16)
	embedder, err := llm.NewEmbedder(mockEmb.RegisterEmbedder(g), nil)
	if err != nil {
		t.Fatalf("NewEmbedder() = %v", err)
	}

	client, err := llm.NewClient(llm.Config{Genkit: g, ModelName: "mock/test-model"})
	if err != nil {
		t.Fatalf("NewClient() = %v", err)
	}

	memIndex := testutil.NewMemoryIndex()
	ingestor, err := index.NewIngestor(memIndex, embedder, nil)
	if err != nil {
		t.Fatalf("NewIngestor() = %v", err)
	}
	if _, err := ingestor.IndexDocument(ctx, "document:plan", "u-1", "The quarterly plan moved two launches to Q4."); err != nil {
		t.Fatalf("IndexDocument() = %v", err)
	}
	if _, err := ingestor.IndexDocument(ctx, "document:misc", "u-1", "Lunch menu for the offsite."); err != nil {
		t.Fatalf("IndexDocument() = %v", err)
	}
	if memIndex.Len() != 2 {
		t.Fatalf("index has %d chunks, want 2", memIndex.Len())
	}

	source := testutil.NewStaticContentSource()
	source.Add(mention.EntityMeeting, "m-1", "u-1", "Planning sync: dates confirmed.")

	resolver, err := mention.NewResolver(source, nil)
	if err != nil {
		t.Fatalf("NewResolver() = %v", err)
	}
	retriever, err := retrieval.New(memIndex, embedder, 10, nil)
	if err != nil {
		t.Fatalf("retrieval.New() = %v", err)
	}
	optimizer, err := optimize.New(optimize.Config{LLM: client, MaxCount: 6, CharBudget: 12000})
	if err != nil {
		t.Fatalf("optimize.New() = %v", err)
	}

	history := conversation.NewMemoryStore()
	coordinator, err := turn.NewCoordinator(turn.Config{
		History:          history,
		Resolver:         resolver,
		Expander:         expand.New(client, nil),
		Retriever:        retriever,
		Optimizer:        optimizer,
		LLM:              client,
		ExpansionCount:   3,
		HistoryTailLimit: 20,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() = %v", err)
	}
	defer coordinator.Close()

	convID, err := history.CreateConversation(ctx, "u-1")
	if err != nil {
		t.Fatalf("CreateConversation() = %v", err)
	}

	mentions := []mention.Mention{{EntityType: mention.EntityMeeting, EntityID: "m-1", Start: 0, End: 4}}
	tn, err := coordinator.Submit(ctx, convID, "u-1", "what changed in the quarterly plan", mentions)
	if err != nil {
		t.Fatalf("Submit() = %v", err)
	}

	reply, err := coordinator.Poll(ctx, convID, tn.UserMessage().Sequence, 10*time.Millisecond, 5*time.Second)
	if err != nil {
		t.Fatalf("Poll() = %v", err)
	}
	if reply.Content != "Based on the plan, two launches moved to Q4." {
		t.Errorf("reply = %q", reply.Content)
	}

	if tn.State() != turn.StateReady {
		t.Fatalf("turn state = %s (err: %v)", tn.State(), tn.Err())
	}
	set := tn.Context()
	if len(set.Candidates) != 1 || set.Candidates[0].ID() != "document:plan#0" {
		t.Fatalf("context = %+v, want the judge's selection", set.Candidates)
	}

	// The mock recorded every model call: expansion, judge, answer.
	calls := mockLLM.Calls()
	if len(calls) != 3 {
		t.Fatalf("got %d model calls, want 3", len(calls))
	}
	final := calls[len(calls)-1]
	if !strings.Contains(final.Prompt, "The quarterly plan moved two launches to Q4.") {
		t.Error("answer prompt missing selected chunk text")
	}
	if !strings.Contains(final.Prompt, "what changed in the quarterly plan") {
		t.Error("answer prompt missing the question")
	}
}

func TestMemoryIndex_ScopeAndSimilarity(t *testing.T) {
	ctx := context.Background()
	idx := testutil.NewMemoryIndex()

	err := idx.Upsert(ctx, []index.Chunk{
		{SourceID: "a", Chunk: 0, UserID: "u-1", Text: "aligned", Vector: []float32{1, 0}},
		{SourceID: "b", Chunk: 0, UserID: "u-1", Text: "orthogonal", Vector: []float32{0, 1}},
		{SourceID: "c", Chunk: 0, UserID: "u-2", Text: "foreign", Vector: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, retrieval.Scope{UserID: "u-1"}, 10)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (foreign chunk excluded)", len(hits))
	}
	if hits[0].Text != "aligned" || hits[0].Score <= hits[1].Score {
		t.Errorf("hits = %+v, want aligned first", hits)
	}

	scoped, err := idx.Search(ctx, []float32{1, 0}, retrieval.Scope{UserID: "u-1", EntityIDs: []string{"b"}}, 10)
	if err != nil {
		t.Fatalf("scoped Search() = %v", err)
	}
	if len(scoped) != 1 || scoped[0].SourceID != "b" {
		t.Errorf("scoped hits = %+v, want only b", scoped)
	}
}
