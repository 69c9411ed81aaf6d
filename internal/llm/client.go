// Package llm is the chat-completion layer used by the agent loop and
// by the tools that need a model (item description, recommendations).
// Providers take images as URLs or data URLs and can be asked for
// output that conforms to a JSON schema.
package llm

import "context"

// Client is implemented by every chat-completion provider.
type Client interface {
	// Chat sends one completion request and returns the full response.
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Pinger is implemented by providers that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
