package index

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingWriter struct {
	chunks []Chunk
	err    error
}

func (w *recordingWriter) Upsert(_ context.Context, chunks []Chunk) error {
	if w.err != nil {
		return w.err
	}
	w.chunks = append(w.chunks, chunks...)
	return nil
}

type stubDocEmbedder struct {
	err error
}

func (e *stubDocEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i)}
	}
	return vectors, nil
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 10, 2, nil},
		{"fits in one chunk", "short text", 100, 10, []string{"short text"}},
		{"splits with overlap", "abcdefghij", 4, 2, []string{"abcd", "cdef", "efgh", "ghij"}},
		{"whitespace chunks dropped", "ab        cd", 4, 0, []string{"ab", "cd"}},
		{"zero size", "abc", 0, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitText(tt.content, tt.size, tt.overlap)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d chunks %q, want %d %q", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitText_MultibyteSafe(t *testing.T) {
	content := strings.Repeat("界", 10)
	for _, chunk := range SplitText(content, 4, 1) {
		for _, r := range chunk {
			if r != '界' {
				t.Fatalf("chunk %q contains corrupted rune %q", chunk, r)
			}
		}
	}
}

func TestIndexDocument(t *testing.T) {
	writer := &recordingWriter{}
	ing, err := NewIngestor(writer, &stubDocEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewIngestor() = %v", err)
	}
	// Narrow chunks to force a split.
	ing.chunkSize = 10
	ing.overlap = 0

	n, err := ing.IndexDocument(context.Background(), "meeting:m-1", "u-1", strings.Repeat("x", 25))
	if err != nil {
		t.Fatalf("IndexDocument() = %v", err)
	}
	if n != 3 {
		t.Fatalf("indexed %d chunks, want 3", n)
	}
	for i, c := range writer.chunks {
		if c.SourceID != "meeting:m-1" || c.UserID != "u-1" {
			t.Errorf("chunk %d = %+v, wrong source or user", i, c)
		}
		if c.Chunk != i {
			t.Errorf("chunk %d index = %d", i, c.Chunk)
		}
		// The stub embedder marks vector j with value j, proving alignment.
		if c.Vector[0] != float32(i) {
			t.Errorf("chunk %d vector = %v, misaligned with text order", i, c.Vector)
		}
	}
}

func TestIndexDocument_EmptyContent(t *testing.T) {
	writer := &recordingWriter{}
	ing, _ := NewIngestor(writer, &stubDocEmbedder{}, nil)

	n, err := ing.IndexDocument(context.Background(), "doc-1", "u-1", "   ")
	if err != nil {
		t.Fatalf("IndexDocument(blank) = %v", err)
	}
	if n != 0 || len(writer.chunks) != 0 {
		t.Errorf("indexed %d chunks, want 0", n)
	}
}

func TestIndexDocument_EmbedErrorPropagates(t *testing.T) {
	wantErr := errors.New("embedding down")
	ing, _ := NewIngestor(&recordingWriter{}, &stubDocEmbedder{err: wantErr}, nil)

	_, err := ing.IndexDocument(context.Background(), "doc-1", "u-1", "content")
	if !errors.Is(err, wantErr) {
		t.Errorf("IndexDocument() = %v, want wrapped %v", err, wantErr)
	}
}
