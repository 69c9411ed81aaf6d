package wardrobe

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/philippgille/chromem-go"
)

// ChromemIndex is an embedded, file-persisted index backed by
// chromem-go. Vectors are always supplied by the caller; the collection
// has no embedding function of its own.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the collection. An empty dir keeps
// the index in memory only.
func NewChromemIndex(dir, collection string) (*ChromemIndex, error) {
	if collection == "" {
		collection = "wardrobe"
	}

	var db *chromem.DB
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Join(dir, "wardrobe.chromem"), false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	c, err := db.GetOrCreateCollection(collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", collection, err)
	}
	return &ChromemIndex{db: db, collection: c}, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("wardrobe index requires precomputed embeddings")
}

// Upsert implements Writer.
func (c *ChromemIndex) Upsert(ctx context.Context, items []Item, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return fmt.Errorf("upsert: %d items, %d vectors", len(items), len(vectors))
	}
	for i, it := range items {
		err := c.collection.AddDocument(ctx, chromem.Document{
			ID:        it.Key(),
			Content:   it.Label,
			Embedding: vectors[i],
			Metadata:  metadata(it),
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", it.Label, err)
		}
	}
	return nil
}

// Count implements Writer.
func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.collection.Count(), nil
}

// Query implements Index. chromem rejects nResults larger than the
// collection, so topK is clamped.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	n := c.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	results, err := c.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		it, err := itemFromMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", r.ID, err)
		}
		out = append(out, Match{Item: it, Score: r.Similarity})
	}
	return out, nil
}
