package wardrobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

// QdrantIndex queries a Qdrant collection over its REST API. Point
// payloads carry the catalog fields (image_url, bbox, label,
// image_signature).
type QdrantIndex struct {
	baseURL    string
	collection string
	apiKey     string
	client     *http.Client
	logger     *slog.Logger
}

// QdrantConfig configures NewQdrantIndex.
type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
}

// NewQdrantIndex creates a Qdrant-backed index.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) *QdrantIndex {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		client: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

func (q *QdrantIndex) endpoint(parts ...string) string {
	return q.baseURL + "/collections/" + url.PathEscape(q.collection) + strings.Join(parts, "")
}

func (q *QdrantIndex) headers() map[string]string {
	if q.apiKey == "" {
		return nil
	}
	return map[string]string{"api-key": q.apiKey}
}

// qdrantPoint ids are integers for collections built by other tools
// and UUID strings for ours, so the id is left untyped.
type qdrantPoint struct {
	ID      any       `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload Item      `json:"payload"`
	Score   float32   `json:"score,omitempty"`
}

type qdrantQueryRequest struct {
	Query       []float32 `json:"query"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
}

// Query implements Index.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	var resp qdrantQueryResponse
	err := httpkit.DoJSON(ctx, q.client, http.MethodPost, q.endpoint("/points/query"), q.headers(),
		qdrantQueryRequest{Query: vector, Limit: topK, WithPayload: true}, &resp)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]Match, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, Match{Item: p.Payload, Score: p.Score})
	}
	return out, nil
}

// EnsureCollection creates the collection with cosine distance when it
// does not exist yet.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dim int) error {
	err := httpkit.DoJSON(ctx, q.client, http.MethodGet, q.endpoint(), q.headers(), nil, nil)
	if err == nil {
		return nil
	}
	var se *httpkit.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		return fmt.Errorf("qdrant get collection: %w", err)
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	if err := httpkit.DoJSON(ctx, q.client, http.MethodPut, q.endpoint(), q.headers(), body, nil); err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	q.logger.Info("qdrant collection created", "collection", q.collection, "dim", dim)
	return nil
}

// Upsert implements Writer. Point ids are UUIDs derived from the item
// key so re-indexing the same catalog overwrites instead of duplicating.
func (q *QdrantIndex) Upsert(ctx context.Context, items []Item, vectors [][]float32) error {
	if len(items) != len(vectors) {
		return fmt.Errorf("upsert: %d items, %d vectors", len(items), len(vectors))
	}
	if len(items) == 0 {
		return nil
	}
	if err := q.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]qdrantPoint, len(items))
	for i, it := range items {
		points[i] = qdrantPoint{
			ID:      pointID(it.Key()),
			Vector:  vectors[i],
			Payload: it,
		}
	}
	err := httpkit.DoJSON(ctx, q.client, http.MethodPut, q.endpoint("/points?wait=true"), q.headers(),
		map[string]any{"points": points}, nil)
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

var pointNamespace = uuid.MustParse("8f3c1c52-6a43-4c8e-9d0b-1f6a2b7e5d90")

func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

// Count implements Writer.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := httpkit.DoJSON(ctx, q.client, http.MethodPost, q.endpoint("/points/count"), q.headers(),
		map[string]any{"exact": true}, &resp)
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return resp.Result.Count, nil
}
