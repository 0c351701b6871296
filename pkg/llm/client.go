// Package llm is the provider-agnostic LLM gateway: streaming completion
// with token accounting, cost estimation, and cancellation. Tool calls are
// not provider-native; agents embed <tool_call> JSON blocks in the text
// stream and the pipeline parses them with ToolCallScanner.
package llm

import (
	"context"
	"fmt"

	"github.com/craftwork-ai/loom/pkg/config"
)

// Message is one turn of provider-neutral conversation history.
type Message struct {
	Role    string // user, assistant, system
	Content string
}

// Request is a streaming completion request.
type Request struct {
	Model           string
	SystemPrompt    string
	Messages        []Message
	MaxOutputTokens int
	Temperature     float64
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// Chunk is one streaming event. Exactly one field group is set: Delta for
// text, Usage for accounting updates.
type Chunk struct {
	Delta string
	Usage *Usage
}

// Client is a streaming completion provider. Implementations must observe
// ctx cancellation at every chunk boundary and close both channels when the
// stream ends.
type Client interface {
	// Stream starts a completion and returns chunk and error channels,
	// following the same two-channel contract as the rest of the codebase:
	// chunks arrive in order, at most one error is sent, both channels are
	// closed when the stream ends.
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
	// Provider returns the provider name for accounting.
	Provider() string
}

// Registry holds one Client per configured provider.
type Registry struct {
	clients  map[string]Client
	pricing  *config.ProviderRegistry
	fallback string
}

// NewRegistry builds clients for every configured provider.
func NewRegistry(providers *config.ProviderRegistry) (*Registry, error) {
	r := &Registry{
		clients: make(map[string]Client),
		pricing: providers,
	}
	for _, name := range providers.Names() {
		pc, _ := providers.Get(name)
		var (
			c   Client
			err error
		)
		switch name {
		case config.ProviderAnthropic:
			c, err = NewAnthropicClient(pc)
		case config.ProviderOpenAI:
			c, err = NewOpenAIClient(pc)
		default:
			err = fmt.Errorf("unknown provider %q", name)
		}
		if err != nil {
			return nil, err
		}
		r.clients[name] = c
		if r.fallback == "" {
			r.fallback = name
		}
	}
	if providers.Default != "" {
		r.fallback = providers.Default
	}
	if len(r.clients) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	return r, nil
}

// NewStaticRegistry wraps pre-built clients. Callers that supply their own
// Client implementations (embedders, tests) construct the registry this way;
// the first client registered becomes the fallback unless the pricing
// registry names a default.
func NewStaticRegistry(providers *config.ProviderRegistry, clients map[string]Client) *Registry {
	r := &Registry{
		clients: make(map[string]Client, len(clients)),
		pricing: providers,
	}
	for name, c := range clients {
		r.clients[name] = c
		if r.fallback == "" {
			r.fallback = name
		}
	}
	if providers.Default != "" && clients[providers.Default] != nil {
		r.fallback = providers.Default
	}
	return r
}

// Client returns the client for a provider, falling back to the default when
// name is empty or unknown.
func (r *Registry) Client(name string) Client {
	if c, ok := r.clients[name]; ok {
		return c
	}
	return r.clients[r.fallback]
}

// Model returns the configured default model for a provider.
func (r *Registry) Model(provider string) string {
	if pc, err := r.pricing.Get(provider); err == nil {
		return pc.Model
	}
	pc, _ := r.pricing.Get(r.fallback)
	return pc.Model
}

// Cost estimates the USD cost of a usage record against the provider's
// pricing table.
func (r *Registry) Cost(model string, usage Usage) float64 {
	p := r.pricing.Pricing(model)
	return EstimateCost(p, usage)
}
