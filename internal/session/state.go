// Package session implements the visitor session controller: the
// conversational field-collection state machine for one visitor.
package session

import (
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
)

// State is a controller state.
type State string

const (
	StateLoading      State = "loading"
	StateConfigError  State = "config_error"
	StateNotFound     State = "not_found"
	StateConsentGate  State = "consent_gate"
	StateActive       State = "active"
	StateSending      State = "sending"
	StateOffline      State = "offline"
	StateFormFallback State = "form_fallback"
)

// States lists every controller state.
var States = []State{
	StateLoading, StateConfigError, StateNotFound, StateConsentGate,
	StateActive, StateSending, StateOffline, StateFormFallback,
}

// ChatVisible reports whether the chat surface is shown in this state.
func (s State) ChatVisible() bool {
	return s == StateActive || s == StateSending
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateNotFound
}

// Derived is the state computed from the collected fields.
type Derived struct {
	RemainingFields []string `json:"remainingFields"`
	Progress        float64  `json:"progress"`
}

// ComputeSessionState returns the labels of the fields still missing, in
// declared order, and the percentage collected. A value counts as missing
// when it is absent, null or an empty string. Progress is 0 for an empty
// field list.
func ComputeSessionState(collected map[string]domain.FieldValue, fields []domain.FieldSpec) Derived {
	d := Derived{RemainingFields: []string{}}
	if len(fields) == 0 {
		return d
	}
	for _, f := range fields {
		if collected[f.Key].IsEmpty() {
			d.RemainingFields = append(d.RemainingFields, f.Label)
		}
	}
	d.Progress = float64(len(fields)-len(d.RemainingFields)) / float64(len(fields)) * 100
	return d
}

// CurrentField returns the first declared field that has not been
// collected yet.
func CurrentField(collected map[string]domain.FieldValue, fields []domain.FieldSpec) (domain.FieldSpec, bool) {
	for _, f := range fields {
		if collected[f.Key].IsEmpty() {
			return f, true
		}
	}
	return domain.FieldSpec{}, false
}

// MergeFields applies the outcome of an exchange to collected and returns
// the new map; collected itself is not modified. A non-nil updated map is
// authoritative: its entries are merged and the optimistic write is
// discarded, even when updated is empty. Otherwise optimisticValue is
// recorded under optimisticKey when a key is given.
func MergeFields(collected map[string]domain.FieldValue, optimisticKey string, optimisticValue domain.FieldValue, updated map[string]domain.FieldValue) map[string]domain.FieldValue {
	out := domain.CloneFields(collected)
	if updated != nil {
		for k, v := range updated {
			out[k] = v
		}
		return out
	}
	if optimisticKey != "" {
		out[optimisticKey] = optimisticValue
	}
	return out
}

// Complete reports whether every required field is collected. Agents
// without required fields complete when every field is collected.
func Complete(collected map[string]domain.FieldValue, fields []domain.FieldSpec) bool {
	if len(fields) == 0 {
		return false
	}
	anyRequired := false
	for _, f := range fields {
		if !f.Required {
			continue
		}
		anyRequired = true
		if collected[f.Key].IsEmpty() {
			return false
		}
	}
	if anyRequired {
		return true
	}
	_, missing := CurrentField(collected, fields)
	return !missing
}

// QuickReplies returns the one-tap answers offered for the current field:
// the options of a select field, nothing otherwise.
func QuickReplies(current *domain.FieldSpec) []string {
	if current == nil || current.Type != domain.FieldSelect {
		return nil
	}
	return append([]string(nil), current.Options...)
}

// SuggestedPrompts returns the contextual prompt offered while a field
// remains to be collected.
func SuggestedPrompts(current *domain.FieldSpec) []string {
	if current == nil {
		return nil
	}
	return []string{"I'd like to share my " + strings.ToLower(current.Label)}
}
