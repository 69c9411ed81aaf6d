// Package config handles fashion agent configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/fashion/config.yaml, /etc/fashion/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "fashion", "config.yaml"))
	}

	paths = append(paths, "/etc/fashion/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all fashion agent configuration.
type Config struct {
	Listen     ListenConfig            `yaml:"listen"`
	LLM        LLMConfig               `yaml:"llm"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Wardrobe   WardrobeConfig          `yaml:"wardrobe"`
	Search     SearchConfig            `yaml:"search"`
	TryOn      TryOnConfig             `yaml:"try_on"`
	Agent      AgentConfig             `yaml:"agent"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	DataDir    string                  `yaml:"data_dir"`
	PromptsDir string                  `yaml:"prompts_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig selects the reasoning and vision models and where they run.
type LLMConfig struct {
	// ReasoningModel drives the agent loop.
	ReasoningModel string `yaml:"reasoning_model"`
	// VisionModel serves the describe tool.
	VisionModel string `yaml:"vision_model"`
	// TextModel serves the recommend tool.
	TextModel string `yaml:"text_model"`

	OpenAI OpenAIConfig `yaml:"openai"`
	Ollama OllamaConfig `yaml:"ollama"`

	// Models maps a model name to "openai" or "ollama". Unlisted models
	// go to OpenAI.
	Models map[string]string `yaml:"models"`
}

// OpenAIConfig holds OpenAI (or compatible endpoint) settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Model     string `yaml:"model"`      // Embedding model name (e.g., nomic-embed-text)
	BaseURL   string `yaml:"baseurl"`    // Ollama URL (defaults to llm.ollama.url)
	CacheSize int    `yaml:"cache_size"` // LRU entries; 0 disables the cache
}

// WardrobeConfig selects the vector index the retrieve tool queries.
type WardrobeConfig struct {
	// Backend is "chromem" (embedded, default), "qdrant", or "memory"
	// (process-local, rebuilt on every start).
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	TopK       int    `yaml:"top_k"`

	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
}

// SearchConfig configures web search providers. Providers are tried in
// order starting with Default.
type SearchConfig struct {
	Default    string           `yaml:"default"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
	SearXNG    SearXNGConfig    `yaml:"searxng"`
	Brave      BraveConfig      `yaml:"brave"`
}

// DuckDuckGoConfig enables the keyless HTML provider.
type DuckDuckGoConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SearXNGConfig points at a self-hosted SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// BraveConfig holds the Brave Search API key.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// TryOnConfig configures the image generation backend.
type TryOnConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AgentConfig bounds the reasoning loop and tool execution.
type AgentConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	Temperature      float64       `yaml:"temperature"`
	// PersistSessions journals sessions to SQLite under data_dir.
	PersistSessions bool `yaml:"persist_sessions"`
}

// PricingEntry is the per-million-token price of a model in USD.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file. A .env file next to the
// config, or in the working directory, is loaded into the environment
// first so ${VAR} references can use it. Existing variables win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

func loadDotEnv(paths ...string) {
	seen := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		_ = godotenv.Load(abs)
	}
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			ReasoningModel: "gpt-4o",
			VisionModel:    "gpt-4o",
			TextModel:      "gpt-4o-mini",
			Ollama:         OllamaConfig{URL: "http://localhost:11434"},
		},
		Embeddings: EmbeddingsConfig{Model: "nomic-embed-text", CacheSize: 1024},
		Wardrobe:   WardrobeConfig{Backend: "chromem", Collection: "wardrobe", TopK: 1},
		Search: SearchConfig{
			Default:    "duckduckgo",
			DuckDuckGo: DuckDuckGoConfig{Enabled: true},
		},
		TryOn: TryOnConfig{Model: "gemini-2.5-flash-image", Timeout: 2 * time.Minute},
		Agent: AgentConfig{
			MaxIterations:    6,
			ToolTimeout:      90 * time.Second,
			MaxParallelTools: 4,
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

func (c *Config) applyDefaults() {
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.LLM.Ollama.URL
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = c.LLM.ReasoningModel
	}
	if c.LLM.TextModel == "" {
		c.LLM.TextModel = c.LLM.ReasoningModel
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.LLM.ReasoningModel == "" {
		errs = append(errs, errors.New("llm.reasoning_model is required"))
	}
	for model, provider := range c.LLM.Models {
		if provider != "openai" && provider != "ollama" {
			errs = append(errs, fmt.Errorf("llm.models.%s: unknown provider %q", model, provider))
		}
	}
	switch strings.ToLower(c.Wardrobe.Backend) {
	case "chromem", "memory", "":
	case "qdrant":
		if c.Wardrobe.QdrantURL == "" {
			errs = append(errs, errors.New("wardrobe.qdrant_url is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("wardrobe.backend %q is not chromem, memory or qdrant", c.Wardrobe.Backend))
	}
	if c.Wardrobe.TopK < 0 {
		errs = append(errs, errors.New("wardrobe.top_k must not be negative"))
	}
	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must not be negative"))
	}
	if c.Agent.MaxParallelTools < 0 {
		errs = append(errs, errors.New("agent.max_parallel_tools must not be negative"))
	}
	if c.Agent.PersistSessions && c.DataDir == "" {
		errs = append(errs, errors.New("agent.persist_sessions requires data_dir"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q is not text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ListenAddr returns the host:port the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}

// ProviderFor returns the LLM provider serving model.
func (c *Config) ProviderFor(model string) string {
	if p, ok := c.LLM.Models[model]; ok {
		return p
	}
	return "openai"
}
