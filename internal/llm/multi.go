package llm

import (
	"context"
	"fmt"
)

// MultiClient routes requests to a provider by model name, so the
// reasoning model and the vision model can live on different backends.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client
	usage    UsageHook
}

// NewMultiClient creates a router. fallback serves unknown models and
// may be nil.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a registered provider.
func (m *MultiClient) AddModel(model, provider string) {
	m.models[model] = provider
}

// OnUsage sets a hook that sees every successful completion.
func (m *MultiClient) OnUsage(hook UsageHook) {
	m.usage = hook
}

func (m *MultiClient) clientFor(model string) Client {
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client
		}
	}
	return m.fallback
}

// Chat implements Client.
func (m *MultiClient) Chat(ctx context.Context, req Request) (*Response, error) {
	client := m.clientFor(req.Model)
	if client == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	resp, err := client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if m.usage != nil {
		m.usage(ctx, req, resp)
	}
	return resp, nil
}

// Ping checks every provider that supports it.
func (m *MultiClient) Ping(ctx context.Context) error {
	for name, c := range m.clients {
		p, ok := c.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
