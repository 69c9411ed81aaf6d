package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/farrosalferro/fashion-recommender/internal/agent"
	"github.com/farrosalferro/fashion-recommender/internal/config"
	"github.com/farrosalferro/fashion-recommender/internal/connwatch"
	"github.com/farrosalferro/fashion-recommender/internal/embeddings"
	"github.com/farrosalferro/fashion-recommender/internal/httpkit"
	"github.com/farrosalferro/fashion-recommender/internal/imagegen"
	"github.com/farrosalferro/fashion-recommender/internal/imageref"
	"github.com/farrosalferro/fashion-recommender/internal/llm"
	"github.com/farrosalferro/fashion-recommender/internal/metrics"
	"github.com/farrosalferro/fashion-recommender/internal/prompts"
	"github.com/farrosalferro/fashion-recommender/internal/search"
	"github.com/farrosalferro/fashion-recommender/internal/session"
	"github.com/farrosalferro/fashion-recommender/internal/tools"
	"github.com/farrosalferro/fashion-recommender/internal/usage"
	"github.com/farrosalferro/fashion-recommender/internal/wardrobe"
)

// app holds the wired agent stack shared by serve and ask.
type app struct {
	service *agent.Service
	usage   *usage.Store
	metrics *metrics.Metrics
	pinger  llm.Pinger
	index   wardrobeIndex
	db      *sql.DB
}

// Close releases the database handle.
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// newApp builds every component from cfg, bottom-up.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "fashion.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	a := &app{db: db, metrics: metrics.New()}

	fail := func(err error) (*app, error) {
		db.Close()
		return nil, err
	}

	// --- LLM ---
	client := createLLMClient(cfg, logger)
	a.pinger = client

	a.usage, err = usage.NewStore(db)
	if err != nil {
		return fail(fmt.Errorf("usage store: %w", err))
	}
	client.OnUsage(usage.Hook(a.usage, cfg.Pricing, cfg.ProviderFor, logger))

	// --- Prompts ---
	promptSet, err := prompts.Load(cfg.PromptsDir, logger)
	if err != nil {
		return fail(err)
	}

	// --- Wardrobe retrieval ---
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return fail(err)
	}
	index, err := newWardrobeIndex(cfg, logger)
	if err != nil {
		return fail(err)
	}
	a.index = index
	if n, err := index.Count(ctx); err != nil {
		logger.Warn("wardrobe index unavailable", "backend", cfg.Wardrobe.Backend, "error", err)
	} else {
		logger.Info("wardrobe index ready", "backend", cfg.Wardrobe.Backend, "items", n)
		if n == 0 {
			logger.Warn("wardrobe index is empty; run 'fashion index <catalog.jsonl>'")
		}
	}

	// --- Web search ---
	searchMgr := newSearchManager(cfg, logger)

	// --- Virtual try-on ---
	var generator imagegen.Generator
	if cfg.TryOn.APIKey != "" {
		tryOnPrompt, err := promptSet.TryOnPrompt()
		if err != nil {
			return fail(err)
		}
		generator = imagegen.NewGemini(imagegen.GeminiConfig{
			APIKey:  cfg.TryOn.APIKey,
			BaseURL: cfg.TryOn.BaseURL,
			Model:   cfg.TryOn.Model,
			Timeout: cfg.TryOn.Timeout,
		}, tryOnPrompt, logger)
		logger.Info("virtual try-on enabled", "model", cfg.TryOn.Model)
	} else {
		logger.Info("virtual try-on disabled (no api key)")
	}

	// --- Sessions ---
	var journal session.Journal
	if cfg.Agent.PersistSessions {
		j, err := session.NewJournal(db)
		if err != nil {
			return fail(err)
		}
		journal = j
	}
	sessions := session.NewStore(journal, logger)
	if journal != nil {
		n, err := sessions.Restore()
		if err != nil {
			return fail(fmt.Errorf("restore sessions: %w", err))
		}
		logger.Info("sessions restored", "count", n)
	}

	// --- Agent ---
	dispatcher := tools.NewDispatcher(&tools.Env{
		Images: sessions,
		Loader: imageref.NewLoader(httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		)),
		LLM:         client,
		VisionModel: cfg.LLM.VisionModel,
		TextModel:   cfg.LLM.TextModel,
		Embedder:    embedder,
		Index:       index,
		TopK:        cfg.Wardrobe.TopK,
		Search:      searchMgr,
		Generator:   generator,
		Prompts:     promptSet,
		Logger:      logger,
	}, tools.DispatcherConfig{
		Timeout:     cfg.Agent.ToolTimeout,
		MaxParallel: cfg.Agent.MaxParallelTools,
		Recorder:    a.metrics,
	})

	assembler, err := agent.NewAssembler(promptSet, dispatcher.Tools())
	if err != nil {
		return fail(err)
	}
	reasoner := agent.NewLLMReasoner(client, cfg.LLM.ReasoningModel).WithTemperature(cfg.Agent.Temperature)
	orch := agent.NewOrchestrator(reasoner, dispatcher, assembler, agent.OrchestratorConfig{
		MaxIterations: cfg.Agent.MaxIterations,
		Recorder:      a.metrics,
	}, logger)

	logger.Info("agent ready",
		"reasoning_model", cfg.LLM.ReasoningModel,
		"max_iterations", orch.MaxIterations(),
		"tools", len(dispatcher.Tools()),
	)

	a.service = agent.NewService(sessions, orch, logger)
	return a, nil
}

// watchBackends starts health probes for the backends a turn depends
// on. Readiness changes feed the backend_up gauge.
func (a *app) watchBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) *connwatch.Manager {
	watch := connwatch.NewManager(a.metrics.SetBackendUp, logger)
	backoff := connwatch.DefaultBackoff()

	watch.Watch(ctx, "wardrobe", func(ctx context.Context) error {
		_, err := a.index.Count(ctx)
		return err
	}, backoff)

	// Embeddings are served by Ollama's API.
	embedServer := llm.NewOllamaClient(cfg.Embeddings.BaseURL, logger)
	watch.Watch(ctx, "embeddings", embedServer.Ping, backoff)

	// OpenAI has no cheap probe; only watch the LLM when a model is
	// served locally.
	for _, provider := range cfg.LLM.Models {
		if provider == "ollama" && a.pinger != nil {
			watch.Watch(ctx, "llm", a.pinger.Ping, backoff)
			break
		}
	}
	return watch
}

// createLLMClient routes each model to its provider. OpenAI is the
// fallback for models without an explicit mapping.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	openai := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.ReasoningModel,
	}, logger)

	multi := llm.NewMultiClient(openai)
	multi.AddProvider("openai", openai)
	multi.AddProvider("ollama", llm.NewOllamaClient(cfg.LLM.Ollama.URL, logger))

	for model, provider := range cfg.LLM.Models {
		multi.AddModel(model, provider)
		logger.Debug("model routed", "model", model, "provider", provider)
	}
	return multi
}

func newEmbedder(cfg *config.Config, logger *slog.Logger) (embeddings.Embedder, error) {
	client := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	}, logger)
	if cfg.Embeddings.CacheSize <= 0 {
		return client, nil
	}
	cached, err := embeddings.NewCached(client, cfg.Embeddings.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return cached, nil
}

// wardrobeIndex is what both commands need from a backend.
type wardrobeIndex interface {
	wardrobe.Index
	wardrobe.Writer
}

func newWardrobeIndex(cfg *config.Config, logger *slog.Logger) (wardrobeIndex, error) {
	switch strings.ToLower(cfg.Wardrobe.Backend) {
	case "qdrant":
		return wardrobe.NewQdrantIndex(wardrobe.QdrantConfig{
			URL:        cfg.Wardrobe.QdrantURL,
			Collection: cfg.Wardrobe.Collection,
			APIKey:     cfg.Wardrobe.QdrantAPIKey,
		}, logger), nil
	case "memory":
		return wardrobe.NewMemoryIndex(), nil
	case "chromem", "":
		idx, err := wardrobe.NewChromemIndex(cfg.DataDir, cfg.Wardrobe.Collection)
		if err != nil {
			return nil, fmt.Errorf("open wardrobe index: %w", err)
		}
		return idx, nil
	default:
		return nil, errors.New("unknown wardrobe backend: " + cfg.Wardrobe.Backend)
	}
}

// newSearchManager registers every configured provider. The manager
// falls back through them in registration order after the default.
func newSearchManager(cfg *config.Config, logger *slog.Logger) *search.Manager {
	mgr := search.NewManager(cfg.Search.Default, logger)
	if cfg.Search.DuckDuckGo.Enabled {
		mgr.Register(search.NewDuckDuckGo(""))
	}
	if cfg.Search.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if mgr.Configured() {
		logger.Info("web search enabled", "providers", mgr.Providers(), "default", cfg.Search.Default)
	} else {
		logger.Info("web search disabled (no providers configured)")
	}
	return mgr
}
