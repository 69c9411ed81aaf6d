// Package wardrobe is the searchable catalog of fashion items the
// retrieve tool draws from. Items are indexed by an embedding of their
// label; a query returns the stored image URL and crop box of the
// closest items.
package wardrobe

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

// Item is one catalog entry. The JSON field names follow the catalog
// JSONL format.
type Item struct {
	Signature string         `json:"image_signature"`
	Label     string         `json:"label"`
	ImageURL  string         `json:"image_url"`
	BBox      *imageref.BBox `json:"bbox,omitempty"`
}

// Key is a stable document id for the item within an index.
func (it Item) Key() string {
	return imageref.ID(it.Source())
}

// Source returns the image source the item points at.
func (it Item) Source() imageref.Source {
	return imageref.Source{Path: it.ImageURL, BBox: it.BBox}
}

// Match is a query hit.
type Match struct {
	Item
	Score float32
}

// Index answers nearest-neighbour queries over item embeddings.
type Index interface {
	// Query returns up to topK matches for vector, best first.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
}

// Writer stores item embeddings. Every Index backend also implements it.
type Writer interface {
	Upsert(ctx context.Context, items []Item, vectors [][]float32) error
	Count(ctx context.Context) (int, error)
}

// LoadCatalog reads one JSON item per line. Blank lines are skipped.
// Items without an image URL or with an empty crop box are rejected
// with their line number.
func LoadCatalog(r io.Reader) ([]Item, error) {
	var items []Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var it Item
		if err := json.Unmarshal([]byte(text), &it); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if it.ImageURL == "" {
			return nil, fmt.Errorf("line %d: missing image_url", line)
		}
		if it.Label == "" {
			return nil, fmt.Errorf("line %d: missing label", line)
		}
		if err := imageref.ValidateSource(it.Source()); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		items = append(items, it)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return items, nil
}

// metadata flattens an item into string metadata for backends that only
// store strings.
func metadata(it Item) map[string]string {
	m := map[string]string{
		"image_signature": it.Signature,
		"label":           it.Label,
		"image_url":       it.ImageURL,
	}
	if it.BBox != nil {
		parts := make([]string, len(it.BBox))
		for i, v := range it.BBox {
			parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		m["bbox"] = strings.Join(parts, ",")
	}
	return m
}

func itemFromMetadata(m map[string]string) (Item, error) {
	it := Item{
		Signature: m["image_signature"],
		Label:     m["label"],
		ImageURL:  m["image_url"],
	}
	raw := m["bbox"]
	if raw == "" {
		return it, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return Item{}, fmt.Errorf("bbox %q: want 4 values", raw)
	}
	var b imageref.BBox
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Item{}, fmt.Errorf("bbox %q: %w", raw, err)
		}
		b[i] = v
	}
	it.BBox = &b
	return it, nil
}
