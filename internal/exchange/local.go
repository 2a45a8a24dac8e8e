package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/llm"
	"github.com/soyeahso/chatform/internal/logging"
)

// LocalOptions tunes the completion requests of a LocalService.
type LocalOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// LocalService is the LLM-backed chat function running in-process.
type LocalService struct {
	agents agents.Provider
	client llm.Client
	opts   LocalOptions
	log    *logging.Logger
	now    func() time.Time
}

// NewLocalService creates a service that asks client to extract fields for
// agents resolved through provider.
func NewLocalService(provider agents.Provider, client llm.Client, opts LocalOptions, log *logging.Logger) *LocalService {
	return &LocalService{
		agents: provider,
		client: client,
		opts:   opts,
		log:    log.Sub("exchange"),
		now:    time.Now,
	}
}

// Send implements Service. Failures after the request was accepted are
// ApplicationErrors; only cancellation of ctx is passed through as is.
func (s *LocalService) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Action != "" && req.Action != ActionSendMessage {
		return nil, &ApplicationError{Message: "unsupported action: " + req.Action}
	}

	cfg, err := s.agents.Get(ctx, req.AgentID)
	if err != nil || cfg == nil {
		if errors.Is(err, agents.ErrAgentNotFound) || (err == nil && cfg == nil) {
			return nil, &ApplicationError{Message: "agent not found", Err: err}
		}
		return nil, &ApplicationError{Message: "could not load agent", Err: err}
	}

	log := s.log.With("agentId", cfg.ID)
	start := s.now()

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Model:       s.opts.Model,
		System:      BuildSystemPrompt(cfg, req.CollectedFields, start),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Message}},
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error().Err(err).Str("provider", s.client.Name()).Msg("completion failed")
		return nil, &ApplicationError{Message: "the assistant is unavailable right now, please try again", Err: err}
	}

	message, extracted := ParseReply(resp.Content, cfg)

	out := &Response{AssistantMessage: message}
	if extracted != nil {
		out.UpdatedFields = domain.CloneFields(req.CollectedFields)
		for k, v := range extracted {
			out.UpdatedFields[k] = v
		}
	}

	log.Debug().
		Int("extracted", len(extracted)).
		Int("inputTokens", resp.Usage.InputTokens).
		Int("outputTokens", resp.Usage.OutputTokens).
		Dur("took", s.now().Sub(start)).
		Msg("exchange completed")
	return out, nil
}
