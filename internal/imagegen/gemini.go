package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
)

const (
	defaultGeminiURL   = "https://generativelanguage.googleapis.com"
	defaultGeminiModel = "gemini-2.5-flash-image"
)

// GeminiConfig configures NewGemini.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Gemini generates images through the Gemini generateContent REST API.
type Gemini struct {
	apiKey     string
	baseURL    string
	model      string
	prompt     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGemini creates a Gemini generator. The prompt is sent after the
// images on every request.
func NewGemini(cfg GeminiConfig, prompt string, logger *slog.Logger) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		prompt:  prompt,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

type geminiInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func inlinePart(img Image) geminiPart {
	return geminiPart{InlineData: &geminiInlineData{
		MIMEType: img.MIMEType,
		Data:     base64.StdEncoding.EncodeToString(img.Data),
	}}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, model Image, items []Image) (*Image, error) {
	parts := make([]geminiPart, 0, len(items)+2)
	parts = append(parts, inlinePart(model))
	for _, it := range items {
		parts = append(parts, inlinePart(it))
	}
	parts = append(parts, geminiPart{Text: g.prompt})

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: parts}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	headers := map[string]string{"x-goog-api-key": g.apiKey}

	start := time.Now()
	var resp geminiResponse
	if err := httpkit.DoJSON(ctx, g.httpClient, http.MethodPost, endpoint, headers, body, &resp); err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	g.logger.Debug("gemini generate complete",
		"model", g.model,
		"items", len(items),
		"input_tokens", resp.UsageMetadata.PromptTokenCount,
		"output_tokens", resp.UsageMetadata.CandidatesTokenCount,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("gemini generate: decode image: %w", err)
			}
			return &Image{Data: data, MIMEType: p.InlineData.MIMEType}, nil
		}
	}

	reason := ""
	if len(resp.Candidates) > 0 {
		reason = resp.Candidates[0].FinishReason
	}
	return nil, fmt.Errorf("gemini generate (finish reason %q): %w", reason, ErrNoImage)
}
