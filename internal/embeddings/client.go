// Package embeddings turns item names into vectors for wardrobe
// retrieval, using Ollama's embedding API.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
}

// Client generates embeddings using Ollama's embedding API.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// Config for embedding client.
type Config struct {
	BaseURL string // Ollama base URL (e.g., "http://localhost:11434")
	Model   string // Embedding model (e.g., "nomic-embed-text")
}

// New creates an embedding client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedText embeds every text in one request.
func (c *Client) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	err := httpkit.DoJSON(ctx, c.client, http.MethodPost, c.baseURL+"/api/embed", nil,
		embedRequest{Model: c.model, Input: texts}, &resp)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}
	c.logger.Debug("embedded texts", "model", c.model, "count", len(texts))
	return resp.Embeddings, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// Scored is an index into a vector set with its similarity to a query.
type Scored struct {
	Index int
	Score float32
}

// TopK returns the k vectors most similar to query, best first.
func TopK(query []float32, vectors [][]float32, k int) []Scored {
	scores := make([]Scored, len(vectors))
	for i, v := range vectors {
		scores[i] = Scored{Index: i, Score: CosineSimilarity(query, v)}
	}

	// Selection sort is fine for small k.
	for i := 0; i < k && i < len(scores); i++ {
		maxIdx := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].Score > scores[maxIdx].Score {
				maxIdx = j
			}
		}
		scores[i], scores[maxIdx] = scores[maxIdx], scores[i]
	}

	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k]
}
