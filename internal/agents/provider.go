// Package agents loads agent definitions (field schema, persona, consent
// requirements) from files, the store, or a remote endpoint.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
)

var (
	// ErrAgentNotFound means the provider answered and has no such agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrUnavailable means the provider could not be reached.
	ErrUnavailable = errors.New("agent provider unavailable")
)

// Provider returns the configuration for an agent identifier.
type Provider interface {
	Get(ctx context.Context, id string) (*domain.AgentConfig, error)
}

// Lister is implemented by providers that can enumerate their agents.
type Lister interface {
	List(ctx context.Context) ([]*domain.AgentConfig, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, id string) (*domain.AgentConfig, error)

// Get calls f(ctx, id).
func (f ProviderFunc) Get(ctx context.Context, id string) (*domain.AgentConfig, error) {
	return f(ctx, id)
}

// ValidationError lists every problem found in an agent definition.
type ValidationError struct {
	AgentID string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("agent %q: %s", e.AgentID, strings.Join(e.Issues, "; "))
}

// Validate checks an agent definition. Field keys must be unique, types
// must be known, and select fields must declare options.
func Validate(cfg *domain.AgentConfig) error {
	if cfg == nil {
		return &ValidationError{Issues: []string{"config is empty"}}
	}

	var issues []string
	if strings.TrimSpace(cfg.ID) == "" {
		issues = append(issues, "id is required")
	}

	seen := make(map[string]bool, len(cfg.Fields))
	for i, f := range cfg.Fields {
		where := fmt.Sprintf("fields[%d]", i)
		if f.Key == "" {
			issues = append(issues, where+": key is required")
		} else {
			where = fmt.Sprintf("fields[%d] (%s)", i, f.Key)
			if seen[f.Key] {
				issues = append(issues, where+": duplicate key")
			}
			seen[f.Key] = true
		}
		if strings.TrimSpace(f.Label) == "" {
			issues = append(issues, where+": label is required")
		}
		if !slices.Contains(domain.FieldTypes, f.Type) {
			issues = append(issues, fmt.Sprintf("%s: unknown type %q", where, f.Type))
		}
		if f.Type.HasOptions() && len(f.Options) == 0 {
			issues = append(issues, fmt.Sprintf("%s: type %s requires options", where, f.Type))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{AgentID: cfg.ID, Issues: issues}
	}
	return nil
}

// validID rejects identifiers that could escape a directory or URL path.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\?#`)
}
