package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/farrosalferro/fashion-recommender/internal/config"
)

// OpenAIClient talks to the OpenAI chat completions API or any
// compatible endpoint (set BaseURL).
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// OpenAIConfig configures NewOpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// Model is used when a request does not name one.
	Model string
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

// Chat implements Client.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.F(model),
		Messages: openai.F(openAIMessages(req)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.F(*req.Temperature)
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONSchemaParam{
				Type: openai.F(openai.ResponseFormatJSONSchemaTypeJSONSchema),
				JSONSchema: openai.F(openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        openai.F(req.Schema.Name),
					Description: openai.F(req.Schema.Description),
					Schema:      openai.F[any](req.Schema.Definition),
					Strict:      openai.Bool(false),
				}),
			},
		)
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: no choices in response")
	}

	resp := &Response{
		Content:      completion.Choices[0].Message.Content,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Duration:     time.Since(start),
	}
	c.logger.Debug("openai chat complete",
		"model", resp.Model,
		"purpose", req.Purpose,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"elapsed", resp.Duration.Round(time.Millisecond),
	)
	c.logger.Log(ctx, config.LevelTrace, "openai chat payload", "purpose", req.Purpose, "content", resp.Content)
	return resp, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			if m.Content != "" {
				parts = append(parts, openai.TextPart(m.Content))
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ImagePart(img))
			}
			out = append(out, openai.UserMessageParts(parts...))
		}
	}
	return out
}
