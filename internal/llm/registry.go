package llm

import (
	"cmp"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/logging"
)

// ProviderError is a failed provider call with the HTTP status it carried.
type ProviderError struct {
	Provider string
	Message  string
	Code     int
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether another provider might succeed where this
// one failed: bad credentials, rate limits and server-side trouble.
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case 401, 403, 429, 500, 502, 503, 529:
		return true
	}
	return false
}

// Registry holds provider clients in preference order. The first one
// registered is the primary.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	clients map[string]Client
	log     *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		log:     log.Sub("llm"),
	}
}

// Register appends client to the preference order. Registering a name
// twice is an error.
func (r *Registry) Register(name string, client Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.clients[name]; dup {
		return fmt.Errorf("LLM provider %q already registered", name)
	}
	r.clients[name] = client
	r.order = append(r.order, name)
	r.log.Debug().Str("provider", name).Int("rank", len(r.order)).Msg("registered LLM provider")
	return nil
}

func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// List returns provider names in preference order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// fallbackKeyEnv names the API key variable read for a fallback provider.
// The primary uses llm.apiKey from the config instead.
var fallbackKeyEnv = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"gemini": "GEMINI_API_KEY",
}

// NewRegistryFromConfig registers the configured primary provider followed
// by every fallback that can be built. Providers lacking credentials are
// skipped with a warning.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	add := func(name string, client Client, role string) {
		if client == nil {
			reg.log.Warn().Str("provider", name).Str("role", role).Msg("LLM provider not usable, skipping")
			return
		}
		if err := reg.Register(name, client); err != nil {
			reg.log.Debug().Err(err).Msg("duplicate provider ignored")
		}
	}

	primary := strings.ToLower(strings.TrimSpace(cfg.Provider))
	add(primary, newProviderClient(primary, cfg.APIKey, cfg.Model, cfg.Endpoint), "primary")
	for _, name := range cfg.Fallbacks {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == primary {
			continue
		}
		add(name, newProviderClient(name, os.Getenv(fallbackKeyEnv[name]), "", ""), "fallback")
	}
	return reg
}

// newProviderClient returns nil when the provider is unknown or lacks an
// API key.
func newProviderClient(name, apiKey, model, endpoint string) Client {
	switch name {
	case "claude":
		if apiKey == "" {
			return nil
		}
		return NewClaudeAPIClient(apiKey, cmp.Or(model, "claude-sonnet-4-5"), endpoint)
	case "gemini":
		if apiKey == "" {
			return nil
		}
		return NewGeminiAPIClient(apiKey, cmp.Or(model, "gemini-2.5-flash"), endpoint)
	case "ollama":
		return NewOllamaAPIClient(endpoint, cmp.Or(model, "llama3.2"))
	case "mock":
		return &MockClient{ProviderName: "mock"}
	}
	return nil
}
