package wardrobe

import (
	"context"
	"fmt"
	"sync"

	"github.com/farrosalferro/fashion-recommender/internal/embeddings"
)

// MemoryIndex is an exhaustive in-process index for small catalogs and
// tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	items   []Item
	vectors [][]float32
	byKey   map[string]int
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byKey: make(map[string]int)}
}

// Upsert implements Writer.
func (m *MemoryIndex) Upsert(_ context.Context, items []Item, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return fmt.Errorf("upsert: %d items, %d vectors", len(items), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range items {
		if j, ok := m.byKey[it.Key()]; ok {
			m.items[j] = it
			m.vectors[j] = vectors[i]
			continue
		}
		m.byKey[it.Key()] = len(m.items)
		m.items = append(m.items, it)
		m.vectors = append(m.vectors, vectors[i])
	}
	return nil
}

// Count implements Writer.
func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

// Query implements Index.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	top := embeddings.TopK(vector, m.vectors, topK)
	out := make([]Match, len(top))
	for i, s := range top {
		out[i] = Match{Item: m.items[s.Index], Score: s.Score}
	}
	return out, nil
}
