package agents

import (
	"context"
	"errors"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/logging"
)

// DemoID is the agent identifier that always resolves to the demo agent.
const DemoID = "demo"

// DemoConfig returns the built-in demo agent.
func DemoConfig() *domain.AgentConfig {
	return &domain.AgentConfig{
		ID:          DemoID,
		Name:        "Demo Assistant",
		ProductHint: "a product demo request",
		Fields: []domain.FieldSpec{
			{Key: "name", Label: "Full name", Type: domain.FieldText, Required: true},
			{Key: "email", Label: "Email", Type: domain.FieldEmail, Required: true},
			{Key: "company", Label: "Company", Type: domain.FieldText},
			{Key: "plan", Label: "Plan", Type: domain.FieldSelect, Options: []string{"Starter", "Growth", "Enterprise"}},
		},
		ConsentRequired: true,
		ConsentText:     "I agree that my answers are stored to follow up on this request.",
	}
}

// DemoFallback serves DemoConfig for the demo identifier, and for any
// identifier when the inner provider is unreachable and OnUnavailable is set.
type DemoFallback struct {
	Inner         Provider
	OnUnavailable bool
	log           *logging.Logger
}

// NewDemoFallback wraps a provider with demo handling.
func NewDemoFallback(inner Provider, onUnavailable bool, log *logging.Logger) *DemoFallback {
	return &DemoFallback{Inner: inner, OnUnavailable: onUnavailable, log: log.Sub("agents")}
}

// Get implements Provider.
func (d *DemoFallback) Get(ctx context.Context, id string) (*domain.AgentConfig, error) {
	if id == DemoID {
		return DemoConfig(), nil
	}
	if d.Inner == nil {
		return nil, ErrAgentNotFound
	}

	cfg, err := d.Inner.Get(ctx, id)
	if err != nil && d.OnUnavailable && errors.Is(err, ErrUnavailable) {
		d.log.Warn().Err(err).Str("agentId", id).Msg("provider unreachable, serving demo agent")
		return DemoConfig(), nil
	}
	return cfg, err
}
