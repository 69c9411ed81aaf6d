package agent

import (
	"strings"
	"testing"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

func TestBuildPrompt_ListsTools(t *testing.T) {
	a := newAssembler(t)
	prompt := a.BuildPrompt(&TurnState{})
	for _, tool := range tools.Catalog() {
		if !strings.Contains(prompt, "- "+tool.Name+": ") {
			t.Errorf("prompt missing tool %s", tool.Name)
		}
	}
	if a.BuildPrompt(&TurnState{Iteration: 3}) != prompt {
		t.Error("BuildPrompt should not depend on turn progress")
	}
}

func TestApplyReasoning(t *testing.T) {
	a := newAssembler(t)
	state := &TurnState{Answer: "old", FinalAnswer: true}
	step := &Step{
		Answer:    "Let me check your wardrobe.",
		ToolCalls: []llm.ToolCall{toolCall(tools.NameRetrieve, map[string]any{"item_list": []any{"black jacket"}})},
	}

	a.ApplyReasoning(state, step)

	if state.Answer != step.Answer || state.FinalAnswer || len(state.ToolCalls) != 1 {
		t.Errorf("state = %+v", state)
	}
	if len(state.Messages) != 1 || state.Messages[0].Kind != KindAssistantText {
		t.Fatalf("Messages = %+v", state.Messages)
	}
	want := "Let me check your wardrobe.\n\nTool calls:\n- retrieve {\"item_list\":[\"black jacket\"]}"
	if got := state.Messages[0].Content; got != want {
		t.Errorf("Content = %q, want %q", got, want)
	}
}

func TestApplyReasoning_EmptyAnswerOverwrites(t *testing.T) {
	a := newAssembler(t)
	state := &TurnState{Answer: "previous"}
	a.ApplyReasoning(state, &Step{})
	if state.Answer != "" {
		t.Errorf("Answer = %q, want the latest step's (empty) text", state.Answer)
	}
}

func TestApplyToolResults(t *testing.T) {
	a := newAssembler(t)
	state := &TurnState{}
	a.ApplyToolResults(state, []tools.Result{
		{Call: toolCall(tools.NameRetrieve, nil), Text: "abc: jacket", Group: retrieved("abc")},
		{Call: toolCall(tools.NameSearch, nil), Text: "[ERROR] search: timed out"},
	})

	if len(state.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(state.Messages))
	}
	first, second := state.Messages[0], state.Messages[1]
	if first.Tool != tools.NameRetrieve || first.Content != "abc: jacket" || len(first.Images) != 1 {
		t.Errorf("first = %+v", first)
	}
	if second.Tool != tools.NameSearch || second.Images != nil {
		t.Errorf("second = %+v", second)
	}
}

func TestMergeImages(t *testing.T) {
	a := newAssembler(t)
	state := &TurnState{}

	steps := []struct {
		group imageref.Group
		added bool
	}{
		{imageref.Group{Kind: imageref.KindRetrieved}, false},
		{*retrieved("a", "b"), true},
		{*retrieved("a", "b"), false},
		{*retrieved("b", "a"), true},
		{imageref.Group{Kind: imageref.KindVirtualTryOn, ImageIDs: []string{"b", "a"}}, true},
		// Only the most recent addition is compared.
		{*retrieved("a", "b"), true},
	}
	for i, s := range steps {
		if got := a.MergeImages(state, s.group); got != s.added {
			t.Errorf("step %d: MergeImages = %v, want %v", i, got, s.added)
		}
	}
	if len(state.Images) != 4 {
		t.Errorf("len(Images) = %d, want 4", len(state.Images))
	}
}

func TestMergeImages_CopiesIDs(t *testing.T) {
	a := newAssembler(t)
	state := &TurnState{}
	ids := []string{"a"}
	a.MergeImages(state, imageref.Group{Kind: imageref.KindRetrieved, ImageIDs: ids})
	ids[0] = "mutated"
	if state.Images[0].ImageIDs[0] != "a" {
		t.Error("gallery aliases the caller's slice")
	}
}
