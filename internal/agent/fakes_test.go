package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/session"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReasoner replays scripted steps. When the script runs out it
// repeats the last step, or calls next when set.
type fakeReasoner struct {
	mu    sync.Mutex
	steps []*Step
	next  func(call int, messages []Message) (*Step, error)
	seen  [][]Message
}

func (f *fakeReasoner) Step(_ context.Context, _ string, messages []Message) (*Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := len(f.seen)
	f.seen = append(f.seen, append([]Message(nil), messages...))
	if f.next != nil {
		return f.next(call, messages)
	}
	if len(f.steps) == 0 {
		return nil, errors.New("no scripted step")
	}
	if call < len(f.steps) {
		return f.steps[call], nil
	}
	return f.steps[len(f.steps)-1], nil
}

func (f *fakeReasoner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// fakeDispatcher answers each call with handle, or echoes the name.
type fakeDispatcher struct {
	mu      sync.Mutex
	handle  func(sessionID string, call llm.ToolCall) tools.Result
	batches [][]llm.ToolCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, sessionID string, calls []llm.ToolCall) []tools.Result {
	f.mu.Lock()
	f.batches = append(f.batches, calls)
	f.mu.Unlock()

	out := make([]tools.Result, len(calls))
	for i, c := range calls {
		if f.handle != nil {
			out[i] = f.handle(sessionID, c)
		} else {
			out[i] = tools.Result{Call: c, Text: c.Name + " ok", Outcome: tools.OutcomeOK}
		}
		out[i].Call = c
	}
	return out
}

func (f *fakeDispatcher) dispatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeRecorder keeps the last turn measurement.
type fakeRecorder struct {
	mu         sync.Mutex
	steps      int
	failed     int
	iterations int
	truncated  bool
}

func (f *fakeRecorder) ObserveReasoning(failed bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps++
	if failed {
		f.failed++
	}
}

func (f *fakeRecorder) ObserveTurn(iterations int, truncated bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iterations = iterations
	f.truncated = truncated
}

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	a, err := NewAssembler(prompts.Defaults(), tools.Catalog())
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	return a
}

func newOrchestrator(t *testing.T, r Reasoner, d Dispatcher, maxIter int, rec Recorder) *Orchestrator {
	t.Helper()
	return NewOrchestrator(r, d, newAssembler(t), OrchestratorConfig{MaxIterations: maxIter, Recorder: rec}, quietLogger())
}

func newService(t *testing.T, r Reasoner, d Dispatcher) (*Service, *session.Store) {
	t.Helper()
	store := session.NewStore(nil, quietLogger())
	return NewService(store, newOrchestrator(t, r, d, 0, nil), quietLogger()), store
}

func toolCall(name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{Name: name, Arguments: args}
}

func retrieved(ids ...string) *imageref.Group {
	return &imageref.Group{Kind: imageref.KindRetrieved, ImageIDs: ids}
}
