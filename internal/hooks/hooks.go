// Package hooks dispatches visitor session events to registered handlers:
// the submission store, operator shell commands, and tests.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/chatform/internal/logging"
)

// Event names.
const (
	EventSessionStart          = "session_start"
	EventConsentAccepted       = "consent_accepted"
	EventMessageReceived       = "message_received"
	EventMessageSending        = "message_sending"
	EventSessionOffline        = "session_offline"
	EventSessionCompleted      = "session_completed"
	EventFormFallbackSubmitted = "form_fallback_submitted"
	EventGatewayStart          = "gateway_start"
	EventGatewayStop           = "gateway_stop"
)

// AllEvents lists every event a handler can subscribe to.
var AllEvents = []string{
	EventSessionStart,
	EventConsentAccepted,
	EventMessageReceived,
	EventMessageSending,
	EventSessionOffline,
	EventSessionCompleted,
	EventFormFallbackSubmitted,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Command hooks get it as JSON on stdin.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. A returned error is logged and does not stop
// the remaining handlers.
type Handler func(ctx context.Context, p Payload) error

type registration struct {
	name    string
	handler Handler
}

// Manager holds handler registrations per event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	inflight sync.WaitGroup
	log      *logging.Logger

	now func() time.Time
}

// NewManager creates an empty manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]registration),
		log:      log.Sub("hooks"),
		now:      time.Now,
	}
}

// On registers handler for event under name. Handlers run in registration
// order.
func (m *Manager) On(event, name string, handler Handler) {
	if !slices.Contains(AllEvents, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("handler registered for unknown event")
	}
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], registration{name: name, handler: handler})
	m.mu.Unlock()
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

func (m *Manager) snapshot(event string) []registration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

// Emit runs the handlers for event one after another and returns when all
// of them have finished.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if len(regs) == 0 {
		return
	}
	p := Payload{Event: event, Time: m.now().UTC(), Data: data}
	for _, r := range regs {
		m.run(ctx, r, p)
	}
}

// EmitAsync runs each handler for event in its own goroutine. Wait blocks
// until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	regs := m.snapshot(event)
	if len(regs) == 0 {
		return
	}
	p := Payload{Event: event, Time: m.now().UTC(), Data: data}
	m.inflight.Add(len(regs))
	for _, r := range regs {
		go func() {
			defer m.inflight.Done()
			m.run(ctx, r, p)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

func (m *Manager) run(ctx context.Context, r registration, p Payload) {
	if err := call(ctx, r.handler, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", r.name).
			Msg("hook handler failed")
	}
}

// call invokes h and turns a panic into an error.
func call(ctx context.Context, h Handler, p Payload) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return h(ctx, p)
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events with at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, regs := range m.handlers {
		if len(regs) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
