package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chunking defaults, in runes. Overlap keeps sentences that straddle a
// boundary searchable from both sides.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200
)

// ChunkWriter is the storage side of ingestion. *Store satisfies it.
type ChunkWriter interface {
	Upsert(ctx context.Context, chunks []Chunk) error
}

// DocumentEmbedder batch-embeds chunk texts. *llm.Embedder satisfies it.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Ingestor chunks a document, embeds the chunks in one batch, and writes
// them to the index.
type Ingestor struct {
	writer    ChunkWriter
	embedder  DocumentEmbedder
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// NewIngestor creates an Ingestor with the default chunking parameters.
func NewIngestor(writer ChunkWriter, embedder DocumentEmbedder, logger *slog.Logger) (*Ingestor, error) {
	if writer == nil {
		return nil, errors.New("chunk writer is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		writer:    writer,
		embedder:  embedder,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		logger:    logger,
	}, nil
}

// IndexDocument chunks, embeds, and stores content under sourceID for
// userID, returning the number of chunks written. Empty content indexes
// nothing.
func (i *Ingestor) IndexDocument(ctx context.Context, sourceID, userID, content string) (int, error) {
	texts := SplitText(content, i.chunkSize, i.overlap)
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding document %s: %w", sourceID, err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("document %s: got %d vectors for %d chunks", sourceID, len(vectors), len(texts))
	}

	chunks := make([]Chunk, len(texts))
	for j, text := range texts {
		chunks[j] = Chunk{
			SourceID: sourceID,
			Chunk:    j,
			UserID:   userID,
			Text:     text,
			Vector:   vectors[j],
		}
	}
	if err := i.writer.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("writing document %s: %w", sourceID, err)
	}

	i.logger.Info("document indexed", "source_id", sourceID, "chunks", len(chunks))
	return len(chunks), nil
}

// SplitText splits content into rune-bounded chunks of at most size runes
// with the given overlap between consecutive chunks. Whitespace-only chunks
// are dropped.
func SplitText(content string, size, overlap int) []string {
	if size < 1 {
		return nil
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(content)
	var chunks []string
	for start := 0; start < len(runes); start += size - overlap {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
