package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
)

// DefaultMaxIterations bounds reasoning steps per turn when the
// configuration does not.
const DefaultMaxIterations = 6

// Dispatcher executes a batch of tool calls. tools.Dispatcher
// implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string, calls []llm.ToolCall) []tools.Result
}

// Recorder observes turn-level measurements. The metrics package
// implements it.
type Recorder interface {
	ObserveReasoning(failed bool, elapsed time.Duration)
	ObserveTurn(iterations int, truncated bool, elapsed time.Duration)
}

type loopState int

const (
	stateReasoning loopState = iota
	stateDispatch
	stateDone
)

func (s loopState) String() string {
	switch s {
	case stateReasoning:
		return "REASONING"
	case stateDispatch:
		return "DISPATCH"
	default:
		return "DONE"
	}
}

// Orchestrator drives the reasoning and dispatch loop of a turn.
type Orchestrator struct {
	reasoner      Reasoner
	dispatcher    Dispatcher
	assembler     *Assembler
	maxIterations int
	recorder      Recorder
	logger        *slog.Logger
}

// OrchestratorConfig configures NewOrchestrator.
type OrchestratorConfig struct {
	// MaxIterations bounds reasoning steps; the turn ends after step
	// MaxIterations+1 at the latest. Zero means DefaultMaxIterations.
	MaxIterations int

	Recorder Recorder
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(r Reasoner, d Dispatcher, a *Assembler, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		reasoner:      r,
		dispatcher:    d,
		assembler:     a,
		maxIterations: cfg.MaxIterations,
		recorder:      cfg.Recorder,
		logger:        logger,
	}
}

// MaxIterations returns the configured iteration bound.
func (o *Orchestrator) MaxIterations() int { return o.maxIterations }

// Run executes the loop on state until it reaches DONE. Reasoning and
// tool failures end or continue the turn gracefully; only context
// cancellation is returned.
func (o *Orchestrator) Run(ctx context.Context, state *TurnState, obs Observer) error {
	start := time.Now()
	current := stateReasoning

	for current != stateDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch current {
		case stateReasoning:
			current = o.reason(ctx, state, obs)
		case stateDispatch:
			o.dispatch(ctx, state, obs)
			current = stateReasoning
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if o.recorder != nil {
		o.recorder.ObserveTurn(state.Iteration, state.Truncated, time.Since(start))
	}
	obs.emit(Event{
		Type:      EventDone,
		Iteration: state.Iteration,
		Answer:    state.Answer,
		Images:    state.Images,
		Truncated: state.Truncated,
	})
	return nil
}

func (o *Orchestrator) reason(ctx context.Context, state *TurnState, obs Observer) loopState {
	stepStart := time.Now()
	step, err := o.reasoner.Step(ctx, o.assembler.BuildPrompt(state), state.Messages)
	state.Iteration++
	if o.recorder != nil {
		o.recorder.ObserveReasoning(err != nil, time.Since(stepStart))
	}

	if err != nil {
		if ctx.Err() != nil {
			return stateDone
		}
		o.logger.Error("reasoning failed",
			"session", state.SessionID,
			"iteration", state.Iteration,
			"error", err,
		)
		state.ReasoningFailed = true
		state.ToolCalls = nil
		if state.Answer == "" {
			state.Answer = prompts.FallbackAnswer
		}
		return stateDone
	}

	o.assembler.ApplyReasoning(state, step)
	for _, g := range step.Images {
		o.assembler.MergeImages(state, g)
	}
	obs.emit(Event{
		Type:      EventReasoning,
		Iteration: state.Iteration,
		Answer:    step.Answer,
		Images:    step.Images,
	})

	next := o.transition(state)
	o.logger.Debug("reasoning step",
		"session", state.SessionID,
		"iteration", state.Iteration,
		"final", state.FinalAnswer,
		"tool_calls", len(state.ToolCalls),
		"next", next,
	)
	return next
}

// transition picks the state after a reasoning step.
func (o *Orchestrator) transition(state *TurnState) loopState {
	switch {
	case state.FinalAnswer:
		return stateDone
	case state.Iteration > o.maxIterations:
		if len(state.ToolCalls) > 0 {
			state.Truncated = true
			o.logger.Warn("iteration limit reached, dropping pending tool calls",
				"session", state.SessionID,
				"iterations", state.Iteration,
				"pending", len(state.ToolCalls),
			)
		}
		return stateDone
	case len(state.ToolCalls) > 0:
		return stateDispatch
	default:
		return stateDone
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, state *TurnState, obs Observer) {
	calls := state.ToolCalls
	for i, c := range calls {
		obs.emit(Event{Type: EventToolStart, Iteration: state.Iteration, Tool: c.Name, Arguments: c.Arguments, Index: i})
	}

	results := o.dispatcher.Dispatch(ctx, state.SessionID, calls)

	// Tool galleries stay on their result entries; the model picks what
	// the answer shows.
	o.assembler.ApplyToolResults(state, results)
	for i, r := range results {
		ev := Event{
			Type:      EventToolDone,
			Iteration: state.Iteration,
			Tool:      r.Call.Name,
			Index:     i,
			Result:    r.Text,
			Outcome:   r.Outcome,
		}
		if r.Group != nil {
			ev.Images = append(ev.Images, *r.Group)
		}
		obs.emit(ev)
	}
	state.ToolCalls = nil
}
