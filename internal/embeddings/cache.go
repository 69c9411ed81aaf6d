package embeddings

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes embeddings by text. Item names repeat a lot
// across turns ("white sneakers", "black jacket"), so most retrieve
// calls are served without a round trip.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps next with an LRU cache of the given size.
func NewCached(next Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

// EmbedText implements Embedder. Only cache misses are sent upstream.
func (c *CachedEmbedder) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedText(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[missingIdx[j]] = v
		c.cache.Add(missing[j], v)
	}
	return out, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
