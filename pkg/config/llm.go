package config

import (
	"fmt"
	"strings"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderConfig describes one LLM provider endpoint.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string // optional override, mainly for OpenAI-compatible gateways
	Model   string // default model for this provider
}

// ModelPricing holds USD prices per million tokens.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// ProviderRegistry resolves provider configs and per-model pricing.
type ProviderRegistry struct {
	Default   string
	providers map[string]ProviderConfig
	pricing   map[string]ModelPricing
}

// loadProviderRegistry builds the registry from the environment. A provider
// is registered when its API key is present; the default provider can be
// forced with LOOM_DEFAULT_PROVIDER.
func loadProviderRegistry() *ProviderRegistry {
	r := &ProviderRegistry{
		providers: make(map[string]ProviderConfig),
		pricing:   builtinPricing(),
	}

	if key := getEnv("ANTHROPIC_API_KEY", ""); key != "" {
		r.providers[ProviderAnthropic] = ProviderConfig{
			Name:   ProviderAnthropic,
			APIKey: key,
			Model:  getEnv("LOOM_ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		}
		r.Default = ProviderAnthropic
	}
	if key := getEnv("OPENAI_API_KEY", ""); key != "" {
		r.providers[ProviderOpenAI] = ProviderConfig{
			Name:    ProviderOpenAI,
			APIKey:  key,
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("LOOM_OPENAI_MODEL", "gpt-4.1"),
		}
		if r.Default == "" {
			r.Default = ProviderOpenAI
		}
	}
	if forced := getEnv("LOOM_DEFAULT_PROVIDER", ""); forced != "" {
		r.Default = forced
	}
	return r
}

// Get returns the provider config for name, or the default provider when
// name is empty.
func (r *ProviderRegistry) Get(name string) (ProviderConfig, error) {
	if name == "" {
		name = r.Default
	}
	p, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("LLM provider %q not configured", name)
	}
	return p, nil
}

// Names returns the configured provider names.
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Has reports whether the provider is configured.
func (r *ProviderRegistry) Has(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Pricing returns pricing for the model, falling back to a conservative
// default for unknown models so cost limits still bite.
func (r *ProviderRegistry) Pricing(model string) ModelPricing {
	if p, ok := r.pricing[model]; ok {
		return p
	}
	// Prefix match covers dated model snapshots (e.g. "-20250115" suffixes).
	for name, p := range r.pricing {
		if strings.HasPrefix(model, name) {
			return p
		}
	}
	return ModelPricing{InputPerMTok: 5, OutputPerMTok: 15}
}

// SetPricing overrides pricing for a model (used by tests and settings).
func (r *ProviderRegistry) SetPricing(model string, p ModelPricing) {
	r.pricing[model] = p
}

// Register adds or replaces a provider config (used by tests).
func (r *ProviderRegistry) Register(p ProviderConfig) {
	r.providers[p.Name] = p
	if r.Default == "" {
		r.Default = p.Name
	}
}

// NewProviderRegistry returns an empty registry (used by tests).
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderConfig),
		pricing:   builtinPricing(),
	}
}

func builtinPricing() map[string]ModelPricing {
	return map[string]ModelPricing{
		"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75},
		"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5, CacheReadPerMTok: 0.1, CacheWritePerMTok: 1.25},
		"gpt-4.1":           {InputPerMTok: 2, OutputPerMTok: 8, CacheReadPerMTok: 0.5},
		"gpt-4.1-mini":      {InputPerMTok: 0.4, OutputPerMTok: 1.6, CacheReadPerMTok: 0.1},
	}
}
