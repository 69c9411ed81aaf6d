package wardrobe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const catalogJSONL = `{"image_signature":"sig-1","label":"black leather jacket","image_url":"https://cdn.example.com/1.jpg","bbox":[10,20,200,300]}

{"image_signature":"sig-2","label":"white sneakers","image_url":"https://cdn.example.com/2.jpg"}
{"image_signature":"sig-3","label":"blue jeans","image_url":"https://cdn.example.com/3.jpg","bbox":[0.5,0,100.25,80]}
`

func TestLoadCatalog(t *testing.T) {
	items, err := LoadCatalog(strings.NewReader(catalogJSONL))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].BBox == nil || items[0].BBox[2] != 200 {
		t.Errorf("bbox = %v", items[0].BBox)
	}
	if items[1].BBox != nil {
		t.Errorf("item without bbox decoded as %v", items[1].BBox)
	}
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []string{
		`{"label":"hat"}`,
		`{"image_url":"https://x.test/a.jpg"}`,
		`not json`,
		`{"label":"hat","image_url":"https://x.test/a.jpg","bbox":[10,10,10,50]}`,
		`{"label":"hat","image_url":"ftp://x.test/a.jpg"}`,
	}
	for _, in := range tests {
		if _, err := LoadCatalog(strings.NewReader(in)); err == nil || !strings.Contains(err.Error(), "line 1") {
			t.Errorf("LoadCatalog(%q) err = %v, want line-numbered error", in, err)
		}
	}
}

func TestLoadCatalog_RejectsZeroAreaBBox(t *testing.T) {
	in := `{"label":"scarf","image_url":"https://x.test/s.jpg"}
{"label":"hat","image_url":"https://x.test/a.jpg","bbox":[0,40,100,40]}
`
	_, err := LoadCatalog(strings.NewReader(in))
	var verr *imageref.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *imageref.ValidationError", err)
	}
	if !strings.Contains(err.Error(), "line 2") || !strings.Contains(err.Error(), "no area") {
		t.Errorf("err = %q, want line 2 and the bbox reason", err)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	it := Item{Signature: "s", Label: "scarf", ImageURL: "https://x.test/s.jpg", BBox: &imageref.BBox{0.5, 1, 2.25, 3}}
	got, err := itemFromMetadata(metadata(it))
	if err != nil {
		t.Fatal(err)
	}
	if got.Key() != it.Key() {
		t.Errorf("key changed: %s vs %s", got.Key(), it.Key())
	}
}

type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (f *fakeEmbedder) EmbedText(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = v
	}
	return out, nil
}

func testEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"black leather jacket": {1, 0, 0},
		"white sneakers":       {0, 1, 0},
		"blue jeans":           {0, 0, 1},
	}}
}

func TestIndexer_MemoryIndex(t *testing.T) {
	items, _ := LoadCatalog(strings.NewReader(catalogJSONL))
	emb := testEmbedder()
	idx := NewMemoryIndex()

	n, err := NewIndexer(emb, idx, 2, quietLogger()).Index(context.Background(), items)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n != 3 || emb.calls != 2 {
		t.Errorf("written = %d, embed calls = %d; want 3 and 2", n, emb.calls)
	}

	// Re-indexing replaces rather than duplicates.
	NewIndexer(emb, idx, 10, quietLogger()).Index(context.Background(), items)
	if c, _ := idx.Count(context.Background()); c != 3 {
		t.Errorf("Count = %d after reindex, want 3", c)
	}

	matches, err := idx.Query(context.Background(), []float32{0.1, 0.9, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Label != "white sneakers" {
		t.Errorf("matches = %+v, want white sneakers", matches)
	}
}

func TestChromemIndex(t *testing.T) {
	items, _ := LoadCatalog(strings.NewReader(catalogJSONL))
	idx, err := NewChromemIndex(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewChromemIndex: %v", err)
	}

	if m, err := idx.Query(context.Background(), []float32{1, 0, 0}, 1); err != nil || len(m) != 0 {
		t.Errorf("empty index query = %v, %v", m, err)
	}

	if _, err := NewIndexer(testEmbedder(), idx, 0, quietLogger()).Index(context.Background(), items); err != nil {
		t.Fatalf("Index: %v", err)
	}

	matches, err := idx.Query(context.Background(), []float32{0.9, 0, 0.1}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("len(matches) = %d, want clamp to 3", len(matches))
	}
	top := matches[0]
	if top.Label != "black leather jacket" || top.BBox == nil || *top.BBox != (imageref.BBox{10, 20, 200, 300}) {
		t.Errorf("top match = %+v", top)
	}
}

func TestQdrantIndex_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/ctl/points/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("api-key") != "k" {
			t.Errorf("api-key = %q", r.Header.Get("api-key"))
		}
		var req qdrantQueryRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Limit != 1 || !req.WithPayload || len(req.Query) != 3 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"result":{"points":[{"id":7,"score":0.93,"payload":{
			"image_signature":"sig","label":"black jacket",
			"image_url":"https://cdn.example.com/j.jpg","bbox":[1,2,3,4]}}]},"status":"ok"}`))
	}))
	defer srv.Close()

	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "ctl", APIKey: "k"}, quietLogger())
	matches, err := q.Query(context.Background(), []float32{1, 2, 3}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len = %d", len(matches))
	}
	m := matches[0]
	if m.ImageURL != "https://cdn.example.com/j.jpg" || m.BBox == nil || m.BBox[3] != 4 || m.Score != 0.93 {
		t.Errorf("match = %+v", m)
	}
}

func TestQdrantIndex_UpsertCreatesCollection(t *testing.T) {
	var created, upserted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/ctl":
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/ctl":
			var body map[string]map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["vectors"]["distance"] != "Cosine" || body["vectors"]["size"] != float64(3) {
				t.Errorf("create body = %v", body)
			}
			created = true
			w.Write([]byte(`{"result":true}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/ctl/points":
			var body struct {
				Points []map[string]any `json:"points"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.Points) != 1 {
				t.Errorf("points = %v", body.Points)
			}
			upserted = true
			w.Write([]byte(`{"result":{"status":"completed"}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	q := NewQdrantIndex(QdrantConfig{URL: srv.URL, Collection: "ctl"}, quietLogger())
	err := q.Upsert(context.Background(),
		[]Item{{Label: "hat", ImageURL: "https://x.test/h.jpg"}},
		[][]float32{{1, 0, 0}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !created || !upserted {
		t.Errorf("created = %v, upserted = %v", created, upserted)
	}
}

func TestPointID_Stable(t *testing.T) {
	it := Item{Label: "hat", ImageURL: "https://x.test/h.jpg"}
	if pointID(it.Key()) != pointID(it.Key()) {
		t.Error("point id not deterministic")
	}
}
