package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

// Assembler builds the reasoner's view of a turn and folds reasoning
// and tool output back into the turn state.
type Assembler struct {
	system string
}

// NewAssembler renders the system prompt for the given tool catalog.
func NewAssembler(p *prompts.Set, catalog []*tools.Tool) (*Assembler, error) {
	if p == nil {
		p = prompts.Defaults()
	}
	system, err := p.AgentPrompt(tools.Describe(catalog))
	if err != nil {
		return nil, err
	}
	return &Assembler{system: system}, nil
}

// BuildPrompt returns the system prompt for the next reasoning step.
func (a *Assembler) BuildPrompt(*TurnState) string {
	return a.system
}

// ApplyReasoning records step in the turn state and appends one
// assistant entry so the next step sees its own requests.
func (a *Assembler) ApplyReasoning(state *TurnState, step *Step) {
	state.Answer = step.Answer
	state.FinalAnswer = step.FinalAnswer
	state.ToolCalls = step.ToolCalls
	state.Messages = append(state.Messages, Message{
		Kind:    KindAssistantText,
		Content: renderStep(step),
		Images:  step.Images,
	})
}

// ApplyToolResults appends one tool result entry per call, in call
// order.
func (a *Assembler) ApplyToolResults(state *TurnState, results []tools.Result) {
	for _, r := range results {
		m := Message{Kind: KindToolResult, Tool: r.Call.Name, Content: r.Text}
		if r.Group != nil {
			m.Images = []imageref.Group{*r.Group}
		}
		state.Messages = append(state.Messages, m)
	}
}

// MergeImages appends g to the turn's galleries unless it is empty or
// identical to the most recent addition. It reports whether g was
// added.
func (a *Assembler) MergeImages(state *TurnState, g imageref.Group) bool {
	if g.Empty() {
		return false
	}
	if n := len(state.Images); n > 0 && state.Images[n-1].Equal(g) {
		return false
	}
	g.ImageIDs = append([]string(nil), g.ImageIDs...)
	state.Images = append(state.Images, g)
	return true
}

func renderStep(step *Step) string {
	var sb strings.Builder
	sb.WriteString(step.Answer)
	if len(step.ToolCalls) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Tool calls:")
		for _, c := range step.ToolCalls {
			args, err := json.Marshal(c.Arguments)
			if err != nil {
				args = []byte(fmt.Sprintf("%q", fmt.Sprint(c.Arguments)))
			}
			sb.WriteString("\n- ")
			sb.WriteString(c.Name)
			sb.WriteString(" ")
			sb.Write(args)
		}
	}
	for _, g := range step.Images {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimRight(g.Text(), "\n"))
	}
	return sb.String()
}
