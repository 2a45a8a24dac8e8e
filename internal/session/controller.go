package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/logging"
)

var (
	// ErrBusy is returned when an exchange or load is already in flight.
	ErrBusy = errors.New("session: request already in flight")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("session: operation not allowed in current state")

	// ErrConsentNotChecked is returned by AcceptConsent before the consent
	// box is checked.
	ErrConsentNotChecked = errors.New("session: consent not checked")

	// ErrEmptyInput is returned by Submit when there is neither text nor file.
	ErrEmptyInput = errors.New("session: empty input")

	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("session: closed")
)

// Canned texts used when the exchange gives nothing better.
const (
	loadErrorMessage     = "We couldn't load this assistant. Please try again."
	completedMessage     = "Thanks! I have everything I need."
	fallbackAckMessage   = "Thanks! Your details have been received."
	askFieldMessageFmt   = "Thanks! Could you share your %s?"
	filePlaceholderFmt   = "[file: %s]"
	panicExchangeMessage = "exchange panicked: %v"
)

// Config identifies the session a controller drives.
type Config struct {
	AgentID   string
	SessionID string
}

// Snapshot is a consistent copy of a controller's state. Derived values
// are computed when the snapshot is taken.
type Snapshot struct {
	SessionID         string                       `json:"sessionId"`
	AgentID           string                       `json:"agentId"`
	Version           uint64                       `json:"version"`
	State             State                        `json:"state"`
	Agent             *domain.AgentConfig          `json:"agent,omitempty"`
	Collected         map[string]domain.FieldValue `json:"collectedFields"`
	RemainingFields   []string                     `json:"remainingFields"`
	Progress          float64                      `json:"progress"`
	Messages          []domain.ChatMessage         `json:"messages"`
	Consent           domain.ConsentState          `json:"consent"`
	Banner            string                       `json:"banner,omitempty"`
	LoadError         string                       `json:"loadError,omitempty"`
	CurrentField      *domain.FieldSpec            `json:"currentField,omitempty"`
	QuickReplies      []string                     `json:"quickReplies,omitempty"`
	SuggestedPrompts  []string                     `json:"suggestedPrompts,omitempty"`
	Completed         bool                         `json:"completed"`
	FallbackSubmitted bool                         `json:"fallbackSubmitted,omitempty"`
}

// pendingInput is a user message whose exchange failed with an
// application error and can be sent again.
type pendingInput struct {
	message string
	key     string
	value   domain.FieldValue
}

// Controller drives one visitor session. All methods are safe for
// concurrent use; at most one exchange is in flight at a time.
type Controller struct {
	id       string
	agentID  string
	provider agents.Provider
	svc      exchange.Service
	hooks    *hooks.Manager
	log      *logging.Logger
	now      func() time.Time
	newID    func() string

	mu        sync.Mutex
	state     State
	version   uint64
	agent     *domain.AgentConfig
	collected map[string]domain.FieldValue
	messages  []domain.ChatMessage
	consent   domain.ConsentState
	banner    string
	loadErr   string
	pending   *pendingInput
	loading   bool
	started   bool
	completed bool
	submitted bool
	closed    bool
	listeners map[int]func(Snapshot)
	nextSub   int
}

// New creates a controller in the Loading state. Call Load to fetch the
// agent. hk may be nil.
func New(cfg Config, provider agents.Provider, svc exchange.Service, hk *hooks.Manager, log *logging.Logger) *Controller {
	id := cfg.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	return &Controller{
		id:        id,
		agentID:   cfg.AgentID,
		provider:  provider,
		svc:       svc,
		hooks:     hk,
		log:       log.Sub("session").With("sessionId", id).With("agentId", cfg.AgentID),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		state:     StateLoading,
		collected: make(map[string]domain.FieldValue),
		listeners: make(map[int]func(Snapshot)),
	}
}

// ID returns the session identifier.
func (c *Controller) ID() string { return c.id }

// AgentID returns the agent this session collects for.
func (c *Controller) AgentID() string { return c.agentID }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// OnChange registers fn to receive a snapshot after every state change.
// The returned function removes the registration.
func (c *Controller) OnChange(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Load fetches the agent config. It is valid only in the Loading state
// before any fetch has completed.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.agent != nil || c.state != StateLoading {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.mu.Unlock()
	return c.fetch(ctx, StateConfigError)
}

// Retry recovers from a load failure or an offline exchange by fetching
// the agent again. In Active with a pending application error it sends
// the failed message again instead.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	state, pending := c.state, c.pending
	c.mu.Unlock()

	switch {
	case state == StateConfigError:
		return c.fetch(ctx, StateConfigError)
	case state == StateOffline:
		return c.fetch(ctx, StateOffline)
	case state == StateActive && pending != nil:
		c.mu.Lock()
		if c.state != StateActive || c.pending == nil {
			c.mu.Unlock()
			return ErrInvalidState
		}
		in := *c.pending
		c.banner = ""
		c.state = StateSending
		c.touchLocked()
		c.mu.Unlock()
		c.notify()
		return c.runExchange(ctx, in)
	case state == StateSending:
		return ErrBusy
	default:
		return ErrInvalidState
	}
}

// fetch loads the agent. A failed fetch lands in onFailure.
func (c *Controller) fetch(ctx context.Context, onFailure State) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.loading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.loading = true
	c.state = StateLoading
	c.loadErr = ""
	c.touchLocked()
	c.mu.Unlock()
	c.notify()

	cfg, err := c.getAgent(ctx)
	if err == nil && cfg != nil {
		if verr := agents.Validate(cfg); verr != nil {
			err = verr
		}
	}

	c.mu.Lock()
	c.loading = false
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	firstStart := false
	switch {
	case errors.Is(err, agents.ErrAgentNotFound) || (err == nil && cfg == nil):
		c.state = StateNotFound
		c.log.Info().Msg("agent not found")
	case err != nil:
		c.state = onFailure
		c.loadErr = loadErrorMessage
		c.log.Warn().Err(err).Str("state", string(onFailure)).Msg("agent load failed")
	default:
		c.agent = cfg.Clone()
		c.state = c.entryStateLocked()
		firstStart = !c.started
		c.started = true
		c.log.Info().Str("state", string(c.state)).Int("fields", len(cfg.Fields)).Msg("agent loaded")
	}
	c.touchLocked()
	c.mu.Unlock()
	c.notify()

	if firstStart {
		c.emitAsync(ctx, hooks.EventSessionStart, nil)
	}
	if err != nil {
		return fmt.Errorf("loading agent %s: %w", c.agentID, err)
	}
	if cfg == nil {
		return agents.ErrAgentNotFound
	}
	return nil
}

// getAgent calls the provider, turning a panic into an error.
func (c *Controller) getAgent(ctx context.Context) (cfg *domain.AgentConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			cfg, err = nil, fmt.Errorf("agent provider panicked: %v", r)
		}
	}()
	return c.provider.Get(ctx, c.agentID)
}

func (c *Controller) entryStateLocked() State {
	if c.agent.ConsentRequired && !c.consent.Accepted {
		return StateConsentGate
	}
	return StateActive
}

// SetConsentChecked toggles the consent checkbox. Unchecking after
// acceptance has no effect on the gate.
func (c *Controller) SetConsentChecked(checked bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.agent == nil {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.consent.Checked = checked
	c.touchLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// AcceptConsent opens the chat. It requires the consent box to be checked
// and cannot be undone. Accepting twice is a no-op.
func (c *Controller) AcceptConsent() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.consent.Accepted {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateConsentGate {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if !c.consent.Checked {
		c.mu.Unlock()
		return ErrConsentNotChecked
	}
	c.consent.Accepted = true
	c.state = StateActive
	c.touchLocked()
	c.mu.Unlock()

	c.log.Info().Msg("consent accepted")
	c.notify()
	c.emitAsync(context.Background(), hooks.EventConsentAccepted, nil)
	return nil
}

// Submit sends visitor input to the exchange. The user message is
// appended before the call. A file takes precedence over text and is
// shown as a placeholder. A second call while an exchange is in flight
// returns ErrBusy.
func (c *Controller) Submit(ctx context.Context, text string, file *domain.FileRef) error {
	run, err := c.BeginSubmit(ctx, text, file)
	if err != nil {
		return err
	}
	return run()
}

// BeginSubmit performs the synchronous half of Submit: it checks the
// preconditions, appends the user message and enters Sending. The
// returned func runs the exchange and must be called exactly once.
func (c *Controller) BeginSubmit(ctx context.Context, text string, file *domain.FileRef) (func() error, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state == StateSending {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if c.state != StateActive {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	if strings.TrimSpace(text) == "" && (file == nil || file.Name == "") {
		c.mu.Unlock()
		return nil, ErrEmptyInput
	}

	in := pendingInput{message: text}
	current, hasCurrent := CurrentField(c.collected, c.agent.Fields)
	if file != nil && file.Name != "" {
		in.message = fmt.Sprintf(filePlaceholderFmt, file.Name)
		if hasCurrent && current.Type == domain.FieldFile {
			in.key, in.value = current.Key, domain.FileValue(*file)
		}
	} else if hasCurrent {
		in.key, in.value = current.Key, domain.TextValue(text)
	}

	c.appendLocked(domain.RoleUser, in.message)
	c.banner = ""
	c.pending = nil
	c.state = StateSending
	c.touchLocked()
	c.mu.Unlock()
	c.notify()

	c.emitAsync(ctx, hooks.EventMessageReceived, map[string]any{"message": in.message})
	return func() error { return c.runExchange(ctx, in) }, nil
}

// runExchange sends one request to the exchange service. The caller has
// already moved the controller to Sending.
func (c *Controller) runExchange(ctx context.Context, in pendingInput) error {
	c.mu.Lock()
	req := exchange.Request{
		Action:          exchange.ActionSendMessage,
		AgentID:         c.agentID,
		Message:         in.message,
		CollectedFields: domain.CloneFields(c.collected),
	}
	c.mu.Unlock()

	start := c.now()
	resp, callErr := c.send(ctx, req)
	if callErr == nil && resp != nil && resp.Error != "" {
		callErr = &exchange.ApplicationError{Message: resp.Error}
	}

	c.mu.Lock()
	if c.closed {
		c.state = StateActive
		c.mu.Unlock()
		c.log.Debug().Msg("discarding exchange result for closed session")
		return ErrClosed
	}

	if callErr != nil {
		if exchange.IsNetwork(callErr) {
			c.state = StateOffline
			c.log.Warn().Err(callErr).Msg("exchange unreachable, going offline")
		} else {
			c.state = StateActive
			c.banner = exchange.UserMessage(callErr)
			c.pending = &in
			c.log.Warn().Err(callErr).Msg("exchange failed")
		}
		offline := c.state == StateOffline
		c.touchLocked()
		c.mu.Unlock()
		c.notify()
		if offline {
			c.emitAsync(ctx, hooks.EventSessionOffline, map[string]any{"error": callErr.Error()})
		}
		return callErr
	}

	var updated map[string]domain.FieldValue
	reply := ""
	if resp != nil {
		updated = resp.UpdatedFields
		reply = strings.TrimSpace(resp.AssistantMessage)
	}
	c.collected = MergeFields(c.collected, in.key, in.value, updated)
	if reply == "" {
		reply = c.cannedReplyLocked()
	}
	c.appendLocked(domain.RoleAssistant, reply)
	c.pending = nil
	c.state = StateActive

	justCompleted := !c.completed && Complete(c.collected, c.agent.Fields)
	if justCompleted {
		c.completed = true
	}
	var completion map[string]any
	if justCompleted {
		completion = c.completionDataLocked()
	}
	c.touchLocked()
	c.mu.Unlock()

	c.log.Debug().
		Int("updated", len(updated)).
		Dur("took", c.now().Sub(start)).
		Msg("exchange completed")
	c.notify()
	c.emitAsync(ctx, hooks.EventMessageSending, map[string]any{"message": reply})

	if justCompleted {
		c.log.Info().Msg("session completed")
		c.emit(context.WithoutCancel(ctx), hooks.EventSessionCompleted, completion)
	}
	return nil
}

// send calls the exchange service, turning a panic into an error.
func (c *Controller) send(ctx context.Context, req exchange.Request) (resp *exchange.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf(panicExchangeMessage, r)
		}
	}()
	return c.svc.Send(ctx, req)
}

func (c *Controller) cannedReplyLocked() string {
	if f, ok := CurrentField(c.collected, c.agent.Fields); ok {
		return fmt.Sprintf(askFieldMessageFmt, strings.ToLower(f.Label))
	}
	return completedMessage
}

// UseFormFallback leaves the offline screen for the plain form.
func (c *Controller) UseFormFallback() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateOffline || c.agent == nil {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state = StateFormFallback
	c.touchLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// SubmitFallbackForm validates the plain form and acknowledges it
// locally. Nothing is sent to the exchange.
func (c *Controller) SubmitFallbackForm(ctx context.Context, values map[string]string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state != StateFormFallback {
		c.mu.Unlock()
		return "", ErrInvalidState
	}
	typed, err := ValidateForm(c.agent.Fields, values)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.submitted = true
	c.touchLocked()
	data := map[string]any{"fields": typed}
	c.mu.Unlock()

	c.log.Info().Int("fields", len(typed)).Msg("fallback form submitted")
	c.notify()
	c.emit(ctx, hooks.EventFormFallbackSubmitted, data)
	return fallbackAckMessage, nil
}

// Close tears the controller down. Results of an exchange still in flight
// are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = map[int]func(Snapshot){}
}

func (c *Controller) appendLocked(role domain.Role, content string) {
	ts := c.now().UTC()
	if n := len(c.messages); n > 0 && ts.Before(c.messages[n-1].Timestamp) {
		ts = c.messages[n-1].Timestamp
	}
	c.messages = append(c.messages, domain.ChatMessage{
		ID:        c.newID(),
		Role:      role,
		Content:   content,
		Timestamp: ts,
	})
}

func (c *Controller) touchLocked() { c.version++ }

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:         c.id,
		AgentID:           c.agentID,
		Version:           c.version,
		State:             c.state,
		Agent:             c.agent.Clone(),
		Collected:         domain.CloneFields(c.collected),
		Messages:          append([]domain.ChatMessage(nil), c.messages...),
		Consent:           c.consent,
		Banner:            c.banner,
		LoadError:         c.loadErr,
		Completed:         c.completed,
		FallbackSubmitted: c.submitted,
		RemainingFields:   []string{},
	}
	if c.agent == nil {
		return s
	}
	d := ComputeSessionState(c.collected, c.agent.Fields)
	s.RemainingFields, s.Progress = d.RemainingFields, d.Progress
	if f, ok := CurrentField(c.collected, c.agent.Fields); ok {
		s.CurrentField = &f
		if c.state.ChatVisible() {
			s.QuickReplies = QuickReplies(&f)
			s.SuggestedPrompts = SuggestedPrompts(&f)
		}
	}
	return s
}

func (c *Controller) completionDataLocked() map[string]any {
	return map[string]any{
		"fields":      domain.CloneFields(c.collected),
		"transcript":  append([]domain.ChatMessage(nil), c.messages...),
		"completedAt": c.now().UTC(),
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) payload(data map[string]any) map[string]any {
	out := map[string]any{"sessionId": c.id, "agentId": c.agentID}
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (c *Controller) emit(ctx context.Context, event string, data map[string]any) {
	if c.hooks != nil {
		c.hooks.Emit(ctx, event, c.payload(data))
	}
}

func (c *Controller) emitAsync(ctx context.Context, event string, data map[string]any) {
	if c.hooks != nil {
		c.hooks.EmitAsync(context.WithoutCancel(ctx), event, c.payload(data))
	}
}
