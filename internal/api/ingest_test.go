package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/recaphq/recap/internal/conversation"
	"github.com/recaphq/recap/internal/turn"
)

type recordingIngestor struct {
	mu       sync.Mutex
	sourceID string
	userID   string
	chunks   int
}

func (r *recordingIngestor) IndexDocument(_ context.Context, sourceID, userID, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceID = sourceID
	r.userID = userID
	r.chunks = 2
	return 2, nil
}

type recordingEntityWriter struct {
	mu   sync.Mutex
	puts int
}

func (r *recordingEntityWriter) Put(_ context.Context, _, _, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	return nil
}

func newIngestServer(t *testing.T) (*httptest.Server, *recordingIngestor, *recordingEntityWriter) {
	t.Helper()

	history := conversation.NewMemoryStore()
	coordinator, err := turn.NewCoordinator(turn.Config{
		History:          history,
		Resolver:         nilResolver{},
		Expander:         identityExpander{},
		Retriever:        emptyRetriever{},
		Optimizer:        passOptimizer{},
		LLM:              cannedCompleter{reply: "r"},
		ExpansionCount:   3,
		HistoryTailLimit: 20,
	})
	if err != nil {
		t.Fatalf("NewCoordinator() = %v", err)
	}
	t.Cleanup(coordinator.Close)

	ing := &recordingIngestor{}
	ents := &recordingEntityWriter{}
	server, err := NewServer(ServerConfig{
		Coordinator:  coordinator,
		History:      history,
		Ingestor:     ing,
		Entities:     ents,
		PollInterval: 10 * time.Millisecond,
		RateBurst:    1000,
	})
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return srv, ing, ents
}

func TestIngest(t *testing.T) {
	srv, ing, ents := newIngestServer(t)
	ts := &testServer{srv: srv}

	body := `{"entity_type": "document", "entity_id": "d-1", "content": "design notes"}`
	resp := ts.do(t, http.MethodPost, "/api/v1/documents", "u-1", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	got := decode[ingestResponse](t, resp)
	if got.SourceID != "document:d-1" || got.Chunks != 2 {
		t.Errorf("response = %+v", got)
	}
	if ing.sourceID != "document:d-1" || ing.userID != "u-1" {
		t.Errorf("ingestor saw %s/%s", ing.sourceID, ing.userID)
	}
	if ents.puts != 1 {
		t.Errorf("entity puts = %d, want 1", ents.puts)
	}
}

func TestIngest_Validation(t *testing.T) {
	srv, _, _ := newIngestServer(t)
	ts := &testServer{srv: srv}

	tests := []struct {
		name string
		user string
		body string
		want int
	}{
		{"missing user", "", `{"entity_type": "document", "entity_id": "d-1", "content": "x"}`, http.StatusUnauthorized},
		{"bad entity type", "u-1", `{"entity_type": "task", "entity_id": "t-1", "content": "x"}`, http.StatusBadRequest},
		{"missing content", "u-1", `{"entity_type": "document", "entity_id": "d-1"}`, http.StatusBadRequest},
		{"bad body", "u-1", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/v1/documents", tt.user, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestIngest_DisabledWithoutIngestor(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/api/v1/documents", "u-1", `{"entity_type": "document", "entity_id": "d-1", "content": "x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when ingestion is not configured", resp.StatusCode)
	}
}
