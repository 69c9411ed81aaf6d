package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
)

// Reasoner produces the next step of a turn from the system prompt and
// the turn log.
type Reasoner interface {
	Step(ctx context.Context, system string, messages []Message) (*Step, error)
}

type toolCallOutput struct {
	Name      string         `json:"name" jsonschema:"description=Tool name."`
	Arguments map[string]any `json:"arguments" jsonschema:"description=Tool arguments keyed by parameter name."`
}

type imageOutput struct {
	ImageID string `json:"image_id" jsonschema:"description=Id of the image to show."`
	Type    string `json:"type" jsonschema:"enum=retrieved,enum=virtual_try_on"`
}

type reasoningOutput struct {
	Answer      string           `json:"answer" jsonschema:"description=Answer to the user so far."`
	FinalAnswer bool             `json:"final_answer" jsonschema:"description=True when no more tools are needed."`
	ToolCalls   []toolCallOutput `json:"tool_calls" jsonschema:"description=Tools to run next."`
	Images      []imageOutput    `json:"images" jsonschema:"description=Images to show with the answer."`
}

var reasoningSchema = llm.GenerateSchema[reasoningOutput]("agent_response", "The next step of the assistant.")

// LLMReasoner asks a chat model for structured steps.
type LLMReasoner struct {
	client      llm.Client
	model       string
	temperature *float64
}

// NewLLMReasoner creates a reasoner on client. An empty model lets the
// client pick its default.
func NewLLMReasoner(client llm.Client, model string) *LLMReasoner {
	return &LLMReasoner{client: client, model: model}
}

// WithTemperature sets the sampling temperature for reasoning calls.
func (r *LLMReasoner) WithTemperature(t float64) *LLMReasoner {
	r.temperature = llm.Temperature(t)
	return r
}

// Step implements Reasoner.
func (r *LLMReasoner) Step(ctx context.Context, system string, messages []Message) (*Step, error) {
	resp, err := r.client.Chat(ctx, llm.Request{
		Model:       r.model,
		System:      system,
		Messages:    toLLMMessages(messages),
		Schema:      reasoningSchema,
		Temperature: r.temperature,
		Purpose:     "reasoning",
	})
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	out, err := llm.Decode[reasoningOutput](resp.Content)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	return out.step(), nil
}

func (o reasoningOutput) step() *Step {
	s := &Step{Answer: o.Answer, FinalAnswer: o.FinalAnswer}
	// Calls without a name still go to the dispatcher so the model gets
	// the unknown-tool diagnostic back.
	for _, c := range o.ToolCalls {
		s.ToolCalls = append(s.ToolCalls, llm.ToolCall{Name: c.Name, Arguments: c.Arguments})
	}
	s.Images = groupImages(o.Images)
	return s
}

// groupImages folds consecutive images of the same kind into one
// gallery. Entries with no id, an unknown kind or the user_provided
// kind are dropped.
func groupImages(images []imageOutput) []imageref.Group {
	var groups []imageref.Group
	for _, img := range images {
		kind := imageref.Kind(img.Type)
		if img.ImageID == "" || !kind.Valid() || kind == imageref.KindUserProvided {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].Kind == kind {
			groups[n-1].ImageIDs = append(groups[n-1].ImageIDs, img.ImageID)
			continue
		}
		groups = append(groups, imageref.Group{Kind: kind, ImageIDs: []string{img.ImageID}})
	}
	return groups
}

// toLLMMessages renders the turn log as chat messages. Tool results go
// back as user messages labelled with the tool name.
func toLLMMessages(messages []Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Kind {
		case KindAssistantText:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case KindToolResult:
			var sb strings.Builder
			sb.WriteString("Tool result (")
			sb.WriteString(m.Tool)
			sb.WriteString("):\n")
			sb.WriteString(m.Content)
			out = append(out, llm.Message{Role: llm.RoleUser, Content: sb.String()})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		}
	}
	return out
}
