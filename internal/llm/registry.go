package llm

import (
	"fmt"
	"os"
	"sync"
)

// Provider name constants used in world and agent configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Registry resolves provider names to configured Provider instances.
// Providers are constructed lazily from environment credentials and
// cached for the process lifetime.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register installs a provider under its own name, replacing any cached
// instance. Used by tests and embedders with custom backends.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for name, building it from environment
// credentials on first use. Anthropic requires ANTHROPIC_API_KEY, OpenAI
// requires OPENAI_API_KEY, and Ollama needs no credentials (base URL
// from OLLAMA_BASE_URL when set).
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[name]; ok {
		return p, nil
	}

	var p Provider
	var err error
	switch name {
	case ProviderAnthropic:
		p, err = NewAnthropicProvider(AnthropicConfig{
			APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		})
	case ProviderOpenAI:
		p, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
		})
	case ProviderOllama:
		p = NewOllamaProvider(OllamaConfig{
			BaseURL: os.Getenv("OLLAMA_BASE_URL"),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", name)
	}
	if err != nil {
		return nil, err
	}
	r.providers[name] = p
	return p, nil
}
