package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/config"
	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server. It is useful for
// running the vision tools against a local multimodal model.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithResponseHeaderTimeout(5*time.Minute),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	TotalDuration   int64         `json:"total_duration,omitempty"`
}

// Chat implements Client.
func (c *OllamaClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body := ollamaChatRequest{Model: req.Model}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, img := range m.Images {
			b64, err := ollamaImage(img)
			if err != nil {
				return nil, err
			}
			om.Images = append(om.Images, b64)
		}
		body.Messages = append(body.Messages, om)
	}
	if req.Schema != nil {
		body.Format = req.Schema.Definition
	}
	if req.Temperature != nil {
		body.Options = &ollamaOptions{Temperature: *req.Temperature}
	}

	var out ollamaChatResponse
	start := time.Now()
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/chat", nil, body, &out); err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	resp := &Response{
		Content:      out.Message.Content,
		Model:        out.Model,
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
		Duration:     time.Since(start),
	}
	c.logger.Debug("ollama chat complete",
		"model", resp.Model,
		"purpose", req.Purpose,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", resp.Duration.Round(time.Millisecond),
	)
	c.logger.Log(ctx, config.LevelTrace, "ollama chat payload", "purpose", req.Purpose, "content", resp.Content)
	return resp, nil
}

// ollamaImage extracts the base64 payload Ollama expects from a data
// URL. Remote URLs must be inlined by the caller.
func ollamaImage(img string) (string, error) {
	if !strings.HasPrefix(img, "data:") {
		return "", fmt.Errorf("ollama chat: image must be a data URL, got %.40q", img)
	}
	_, payload, ok := strings.Cut(img, ",")
	if !ok {
		return "", fmt.Errorf("ollama chat: malformed data URL")
	}
	return payload, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/tags", nil, nil, nil)
}
