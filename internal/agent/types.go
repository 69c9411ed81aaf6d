// Package agent runs a conversational turn: it alternates model
// reasoning with tool dispatch until the model is done or the turn
// runs out of iterations, then records the turn in the session.
package agent

import (
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
)

// Kind discriminates turn log entries.
type Kind string

const (
	KindUserText      Kind = "user_text"
	KindAssistantText Kind = "assistant_text"
	KindToolResult    Kind = "tool_result"
)

// Message is one entry of the turn log the reasoner sees.
type Message struct {
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`

	// Tool names the tool for KindToolResult entries.
	Tool string `json:"tool,omitempty"`

	// Images are the galleries this entry introduced: user uploads,
	// images a tool produced or images the assistant showed.
	Images []imageref.Group `json:"images,omitempty"`
}

// Step is the outcome of one reasoning call.
type Step struct {
	Answer      string
	FinalAnswer bool
	ToolCalls   []llm.ToolCall

	// Images are the galleries the model chose to show with its answer.
	Images []imageref.Group
}

// TurnState is the mutable state of one turn. It is owned by a single
// goroutine and discarded when the turn ends.
type TurnState struct {
	SessionID string
	Messages  []Message

	// Iteration counts reasoning steps taken so far.
	Iteration int

	Answer      string
	FinalAnswer bool
	ToolCalls   []llm.ToolCall

	// Images accumulates galleries to return, in the order they were
	// first shown.
	Images []imageref.Group

	// Truncated is set when the iteration limit ended the turn while
	// tool calls were still pending.
	Truncated bool

	// ReasoningFailed is set when the reasoner returned an error and
	// the turn ended early.
	ReasoningFailed bool
}

// EventType labels turn progress events.
type EventType string

const (
	EventReasoning EventType = "reasoning"
	EventToolStart EventType = "tool_start"
	EventToolDone  EventType = "tool_done"
	EventDone      EventType = "done"
)

// Event reports turn progress to an Observer.
type Event struct {
	Type      EventType        `json:"type"`
	Iteration int              `json:"iteration"`
	Answer    string           `json:"answer,omitempty"`
	Tool      string           `json:"tool,omitempty"`
	Arguments map[string]any   `json:"arguments,omitempty"`
	Index     int              `json:"index,omitempty"`
	Result    string           `json:"result,omitempty"`
	Outcome   string           `json:"outcome,omitempty"`
	Images    []imageref.Group `json:"images,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
}

// Observer receives turn events. It is called synchronously from the
// turn goroutine and must not block for long.
type Observer func(Event)

func (o Observer) emit(e Event) {
	if o != nil {
		o(e)
	}
}
