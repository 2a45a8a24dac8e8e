package llm

import (
	"context"
	"errors"

	"github.com/soyeahso/chatform/internal/logging"
)

var errNoProviders = errors.New("no LLM provider configured")

// FailoverClient walks a Registry in preference order. A provider is
// abandoned for the next one only when its error is retryable; the
// configured model is sent to the primary alone.
type FailoverClient struct {
	registry *Registry
	log      *logging.Logger
}

func NewFailoverClient(registry *Registry, log *logging.Logger) *FailoverClient {
	return &FailoverClient{registry: registry, log: log.Sub("llm.failover")}
}

// Name returns the primary provider, or "none".
func (f *FailoverClient) Name() string {
	if names := f.registry.List(); len(names) > 0 {
		return names[0]
	}
	return "none"
}

func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	lastErr := errNoProviders
	for i, name := range f.registry.List() {
		client, ok := f.registry.Get(name)
		if !ok {
			continue
		}
		attempt := req
		if i > 0 {
			attempt.Model = ""
		}

		resp, err := client.Complete(ctx, attempt)
		if err == nil {
			if i > 0 {
				f.log.Info().Str("provider", name).Int("rank", i+1).Msg("served by fallback provider")
			}
			return resp, nil
		}
		if ctx.Err() != nil || !shouldFailOver(err) {
			return nil, err
		}
		f.log.Warn().Err(err).Str("provider", name).Msg("provider failed, trying next")
		lastErr = err
	}
	return nil, lastErr
}

// shouldFailOver treats transport failures as provider-local.
func shouldFailOver(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return err != nil
}
