package wardrobe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/farrosalferro/fashion-recommender/internal/embeddings"
)

// DefaultBatchSize is how many labels are embedded per request.
const DefaultBatchSize = 100

// Indexer embeds catalog labels and writes them to an index.
type Indexer struct {
	embedder  embeddings.Embedder
	writer    Writer
	batchSize int
	logger    *slog.Logger
}

// NewIndexer creates an indexer. A non-positive batchSize uses
// DefaultBatchSize.
func NewIndexer(embedder embeddings.Embedder, writer Writer, batchSize int, logger *slog.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{embedder: embedder, writer: writer, batchSize: batchSize, logger: logger}
}

// Index embeds and stores items batch by batch, returning how many were
// written. A failed batch stops the run; earlier batches stay indexed.
func (ix *Indexer) Index(ctx context.Context, items []Item) (int, error) {
	written := 0
	for start := 0; start < len(items); start += ix.batchSize {
		end := min(start+ix.batchSize, len(items))
		batch := items[start:end]

		labels := make([]string, len(batch))
		for i, it := range batch {
			labels[i] = it.Label
		}
		vectors, err := ix.embedder.EmbedText(ctx, labels)
		if err != nil {
			return written, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if err := ix.writer.Upsert(ctx, batch, vectors); err != nil {
			return written, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
		written += len(batch)
		ix.logger.Info("indexed catalog batch", "done", written, "total", len(items))
	}
	return written, nil
}
