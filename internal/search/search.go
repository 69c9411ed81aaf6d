// Package search provides the web search backends used by the search
// tool to look up fashion items online.
//
// Each backend implements [Provider] and is registered by name on a
// [Manager]. The manager tries the primary provider first and falls
// back to the others in registration order when it fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Result is a single search result.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results to return.
	// Providers may return fewer. Zero means provider default.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 language code (e.g., "en", "de").
	Language string `json:"language,omitempty"`
}

// DefaultCount is used when Options.Count is zero.
const DefaultCount = 5

func (o Options) count() int {
	if o.Count <= 0 {
		return DefaultCount
	}
	return o.Count
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "searxng", "brave").
	Name() string

	// Search executes a query and returns results.
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds configured providers and routes searches.
type Manager struct {
	providers map[string]Provider
	order     []string
	primary   string
	logger    *slog.Logger
}

// NewManager creates a search manager. The primary provider name
// determines which backend is tried first.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    logger,
	}
}

// Register adds a provider to the manager.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Search runs a query against the primary provider, then against the
// remaining providers until one succeeds.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if !m.Configured() {
		return nil, fmt.Errorf("no search provider configured")
	}

	var errs []error
	for _, name := range m.attemptOrder() {
		results, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			return results, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("search provider failed", "provider", name, "query", query, "error", err)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// SearchWith runs a query against a specific named provider.
func (m *Manager) SearchWith(ctx context.Context, provider, query string, opts Options) ([]Result, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, fmt.Errorf("search provider %q not configured", provider)
	}
	return p.Search(ctx, query, opts)
}

func (m *Manager) attemptOrder() []string {
	out := make([]string, 0, len(m.order))
	if _, ok := m.providers[m.primary]; ok {
		out = append(out, m.primary)
	}
	for _, name := range m.order {
		if name != m.primary {
			out = append(out, name)
		}
	}
	return out
}

// Providers returns the names of all registered providers in
// registration order.
func (m *Manager) Providers() []string {
	return append([]string(nil), m.order...)
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return len(m.providers) > 0
}
