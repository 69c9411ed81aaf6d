package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
)

// Tool call outcomes reported to the Recorder.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
	OutcomeUnknown = "unknown_tool"
)

// Defaults for DispatcherConfig.
const (
	DefaultToolTimeout      = 90 * time.Second
	DefaultMaxParallelTools = 4
)

// Recorder observes finished tool calls. The metrics package
// implements it.
type Recorder interface {
	ObserveTool(name, outcome string, elapsed time.Duration)
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// Timeout bounds each call. Zero means DefaultToolTimeout.
	Timeout time.Duration

	// MaxParallel bounds concurrent calls within one dispatch. Zero
	// means DefaultMaxParallelTools.
	MaxParallel int

	Recorder Recorder
}

// Result is the outcome of one tool call. Text is always set: either
// the tool's output or a diagnostic.
type Result struct {
	Call     llm.ToolCall
	Text     string
	Group    *imageref.Group
	Err      error
	Outcome  string
	Duration time.Duration
}

// Dispatcher executes tool calls against an Env. Safe for concurrent
// use by different sessions.
type Dispatcher struct {
	env      *Env
	timeout  time.Duration
	parallel int
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. env is not copied; callers must
// not mutate it afterwards.
func NewDispatcher(env *Env, cfg DispatcherConfig) *Dispatcher {
	if env.Loader == nil {
		env.Loader = imageref.NewLoader(nil)
	}
	if env.Prompts == nil {
		env.Prompts = prompts.Defaults()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallelTools
	}
	return &Dispatcher{
		env:      env,
		timeout:  cfg.Timeout,
		parallel: cfg.MaxParallel,
		recorder: cfg.Recorder,
		logger:   env.logger(),
	}
}

// Tools returns the catalog the dispatcher serves.
func (d *Dispatcher) Tools() []*Tool {
	return Catalog()
}

// Dispatch runs calls concurrently and returns one result per call in
// the original order. Individual failures become diagnostics; Dispatch
// itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var g errgroup.Group
	g.SetLimit(d.parallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.Execute(ctx, sessionID, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Execute runs a single call with the per-call timeout, converting
// every failure (including panics) into a diagnostic result.
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, call llm.ToolCall) (res Result) {
	start := time.Now()
	res.Call = call

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked",
				"tool", call.Name,
				"session", sessionID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res.Err = fmt.Errorf("internal error: %v", r)
			res.Outcome = OutcomePanic
			res.Text = Diagnostic(call.Name, errors.New("internal error"))
			res.Group = nil
		}
		res.Duration = time.Since(start)
		if d.recorder != nil {
			d.recorder.ObserveTool(call.Name, res.Outcome, res.Duration)
		}
		d.logger.Info("tool call",
			"tool", call.Name,
			"session", sessionID,
			"outcome", res.Outcome,
			"elapsed", res.Duration.Round(time.Millisecond),
		)
	}()

	tool, ok := Lookup(call.Name)
	if !ok {
		res.Err = &ErrUnknownTool{ToolName: call.Name}
		res.Outcome = OutcomeUnknown
		res.Text = Diagnostic("", res.Err)
		return res
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := checkRequired(tool, args); err != nil {
		res.Err = err
		res.Outcome = OutcomeError
		res.Text = Diagnostic(tool.Name, err)
		return res
	}

	cctx, cancel := context.WithTimeout(WithSessionID(ctx, sessionID), d.timeout)
	defer cancel()

	out, err := tool.run(cctx, d.env, sessionID, args)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	if err != nil {
		res.Err = err
		res.Outcome = OutcomeError
		if errors.Is(err, context.DeadlineExceeded) {
			res.Outcome = OutcomeTimeout
		}
		res.Text = Diagnostic(tool.Name, err)
		d.logger.Debug("tool failed", "tool", tool.Name, "session", sessionID, "error", err)
		return res
	}

	res.Outcome = OutcomeOK
	res.Text = out.Text
	if out.Group != nil && !out.Group.Empty() {
		res.Group = out.Group
	}
	return res
}
