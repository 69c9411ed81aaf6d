package llm

import (
	"context"
	"time"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message. Images are http(s) URLs or data URLs and
// are only honored on user messages.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Request is a provider-neutral completion request.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// Schema, when set, asks the provider for a JSON object matching it.
	Schema *Schema

	// Temperature is passed through when non-nil.
	Temperature *float64

	// Purpose labels the call for usage accounting ("reasoning",
	// "describe", "recommend").
	Purpose string
}

// Response is a provider-neutral completion result.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// UsageHook receives every successful completion. Implementations must
// be safe for concurrent use.
type UsageHook func(ctx context.Context, req Request, resp *Response)

// Temperature is a convenience for setting Request.Temperature.
func Temperature(t float64) *float64 { return &t }

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
