// Fashion is a conversational fashion assistant.
//
// It serves an HTTP and websocket API for chat turns, and a CLI for
// one-shot questions and wardrobe indexing. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	fashion serve                    Start the API server
//	fashion init [dir]               Initialize a working directory with defaults
//	fashion ask <question>           Ask a single question
//	fashion index <catalog.jsonl>    Embed a wardrobe catalog into the index
//	fashion version                  Print version and build information
//	fashion -o json version          Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/api"
	"github.com/farrosalferro/fashion-recommender/internal/buildinfo"
	"github.com/farrosalferro/fashion-recommender/internal/config"
	"github.com/farrosalferro/fashion-recommender/internal/wardrobe"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; fatal
// errors are returned to main. Arguments are parsed by hand because the
// flag package's globals get in the way of calling run from parallel
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			// Everything after the command belongs to it.
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		opts, err := parseAskArgs(cmdArgs)
		if err != nil {
			return err
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, opts)
	case "index":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: fashion index <catalog.jsonl>")
		}
		return runIndex(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Fashion - conversational fashion assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: fashion [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Start the API server")
	fmt.Fprintln(w, "  init [dir]             Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask [opts] <question>  Ask a single question")
	fmt.Fprintln(w, "      -session <id>        continue an existing session")
	fmt.Fprintln(w, "      -image <path>        attach a clothing image (repeatable)")
	fmt.Fprintln(w, "      -model-image <path>  attach a photo of yourself for try-on")
	fmt.Fprintln(w, "  index <catalog.jsonl>  Embed a wardrobe catalog into the index")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/fashion/config.yaml, /etc/fashion/config.yaml")
	return nil
}

// askOptions are the arguments of the ask subcommand.
type askOptions struct {
	Question   string
	SessionID  string
	Images     []string
	ModelImage string
}

func parseAskArgs(args []string) (askOptions, error) {
	var opts askOptions
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-session" && i+1 < len(args):
			opts.SessionID = args[i+1]
			i++
		case args[i] == "-image" && i+1 < len(args):
			opts.Images = append(opts.Images, args[i+1])
			i++
		case args[i] == "-model-image" && i+1 < len(args):
			opts.ModelImage = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-") && len(words) == 0:
			return opts, fmt.Errorf("unknown ask flag: %s", args[i])
		default:
			words = append(words, args[i])
		}
	}
	opts.Question = strings.Join(words, " ")
	if opts.Question == "" {
		return opts, fmt.Errorf("usage: fashion ask [-session id] [-image path]... <question>")
	}
	return opts, nil
}

// runAsk runs a single turn and prints the answer. With
// agent.persist_sessions enabled, -session continues a conversation
// across invocations.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, opts askOptions) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	// Logs go to stderr so the answer on stdout stays clean.
	logger := config.NewLogger(stderr, max(level, slog.LevelWarn), cfg.LogFormat)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.service.Chat(ctx, agent.ChatRequest{
		Query:      opts.Question,
		SessionID:  opts.SessionID,
		Images:     opts.Images,
		ModelImage: opts.ModelImage,
	}, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(stdout, resp.Answer)
	for _, img := range resp.Images {
		fmt.Fprintf(stdout, "  [%s] %s %s\n", img.Kind, img.ImageID, abbreviate(img.URL))
	}
	fmt.Fprintf(stdout, "session: %s\n", resp.SessionID)
	return nil
}

// abbreviate shortens data URLs for terminal output.
func abbreviate(url string) string {
	if strings.HasPrefix(url, "data:") && len(url) > 48 {
		return url[:48] + "..."
	}
	return url
}

// runIndex embeds a JSONL wardrobe catalog into the configured index.
func runIndex(ctx context.Context, stdout io.Writer, configPath, catalogPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("indexing wardrobe catalog", "file", catalogPath)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(catalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	items, err := wardrobe.LoadCatalog(f)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return err
	}
	index, err := newWardrobeIndex(cfg, logger)
	if err != nil {
		return err
	}

	count, err := wardrobe.NewIndexer(embedder, index, 0, logger).Index(ctx, items)
	if err != nil {
		return fmt.Errorf("indexing failed after %d items: %w", count, err)
	}
	total, err := index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count index: %w", err)
	}

	logger.Info("indexing complete", "items", count, "index_size", total)
	fmt.Fprintf(stdout, "Indexed %d items from %s (index now holds %d)\n", count, catalogPath, total)
	return nil
}

// runServe loads config, builds the agent stack, and serves the API
// until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting fashion agent", "build", buildinfo.String())

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"reasoning_model", cfg.LLM.ReasoningModel,
		"wardrobe", cfg.Wardrobe.Backend,
		"max_iterations", cfg.Agent.MaxIterations,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	watch := a.watchBackends(ctx, cfg, logger)
	defer watch.Stop()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.service, logger)
	server.SetMetricsHandler(a.metrics.Handler())
	server.SetHealthReporter(watch)
	if a.usage != nil {
		server.SetUsageStore(a.usage)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("fashion agent stopped")
	return nil
}

// loadConfig locates, parses, and validates the YAML configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	// Relative directories are resolved against the config file.
	base := filepath.Dir(cfgPath)
	if cfg.PromptsDir != "" && !filepath.IsAbs(cfg.PromptsDir) {
		cfg.PromptsDir = filepath.Join(base, cfg.PromptsDir)
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Join(base, cfg.DataDir)
	}

	return cfg, cfgPath, nil
}
