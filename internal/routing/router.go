// Package routing connects messaging channels to visitor sessions. Every
// sender on a channel drives their own session controller; replies are
// rendered as plain text.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/soyeahso/chatform/internal/channel"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/logging"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/view"
)

const (
	busyReply        = "Still working on your last message, one moment."
	nothingToRetry   = "There is nothing to retry right now."
	formUnavailable  = "The plain form is only offered while the assistant is offline."
	resetReply       = "Your session was cleared. Send any message to start again."
	unknownCmdFormat = "Unknown command %q. %s"
)

// Router routes inbound channel messages to session controllers and sends
// the rendered result back through the originating channel.
type Router struct {
	channels *channel.Registry
	sessions *session.Manager
	log      *logging.Logger

	mu     sync.RWMutex
	agents map[string]string // channel ID -> agent ID

	// Messages waiting per session key. A key is present while a
	// goroutine is draining it.
	qmu    sync.Mutex
	queues map[string][]domain.InboundMessage
}

// NewRouter creates a message router.
func NewRouter(channels *channel.Registry, sessions *session.Manager, log *logging.Logger) *Router {
	return &Router{
		channels: channels,
		sessions: sessions,
		log:      log.Sub("routing"),
		agents:   make(map[string]string),
		queues:   make(map[string][]domain.InboundMessage),
	}
}

// Bind sets the agent visitors on channelID talk to.
func (r *Router) Bind(channelID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[channelID] = agentID
}

func (r *Router) agentFor(channelID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.agents[channelID]
	return id, ok && id != ""
}

// Wire registers the router as the message handler on all channels.
// Channels that report their own agent are bound to it unless Bind was
// called for them already.
func (r *Router) Wire(ctx context.Context) {
	for _, id := range r.channels.List() {
		ch, ok := r.channels.Get(id)
		if !ok {
			continue
		}
		if _, bound := r.agentFor(id); !bound {
			if a, ok := ch.(interface{ AgentID() string }); ok {
				r.Bind(id, a.AgentID())
			}
		}
		ch.OnMessage(func(msg domain.InboundMessage) {
			r.enqueue(ctx, msg)
		})
		r.log.Debug().Str("channel", id).Msg("wired message handler")
	}
}

// enqueue hands msg to its sender's queue. Senders are handled
// concurrently; messages from one sender are handled one at a time in
// arrival order.
func (r *Router) enqueue(ctx context.Context, msg domain.InboundMessage) {
	key := SessionKey(msg)
	r.qmu.Lock()
	q, draining := r.queues[key]
	r.queues[key] = append(q, msg)
	r.qmu.Unlock()
	if !draining {
		go r.drain(ctx, key)
	}
}

func (r *Router) drain(ctx context.Context, key string) {
	for {
		r.qmu.Lock()
		q := r.queues[key]
		if len(q) == 0 {
			delete(r.queues, key)
			r.qmu.Unlock()
			return
		}
		msg := q[0]
		r.queues[key] = q[1:]
		r.qmu.Unlock()

		r.HandleInbound(ctx, msg)
	}
}

// HandleInbound processes one visitor message. The first message from a
// sender opens their session and is answered with the greeting or the
// consent notice; it is not sent to the exchange.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) {
	agentID, ok := r.agentFor(msg.ChannelID)
	if !ok {
		r.log.Warn().Str("channel", msg.ChannelID).Msg("no agent bound to channel, dropping message")
		return
	}

	key := SessionKey(msg)
	log := r.log.With("key", key)
	log.Debug().Str("agentId", agentID).Msg("routing inbound message")

	if cmd, _, ok := parseCommand(msg.Body); ok && cmd == "reset" {
		r.sessions.Remove(key)
		r.reply(ctx, msg, []string{resetReply})
		return
	}

	ctrl, created := r.sessions.GetOrCreate(key, agentID)
	if created {
		if err := ctrl.Load(ctx); err != nil {
			log.Info().Err(err).Msg("agent load did not succeed")
		}
		r.reply(ctx, msg, Describe(view.Render(ctrl.Snapshot())))
		return
	}

	r.reply(ctx, msg, Respond(ctx, ctrl, msg.Body))
}

// Respond applies one line of visitor input to ctrl and returns the text
// to show. Lines starting with "!" are commands; anything else is a chat
// message. "!reset" is left to the caller since it replaces the session.
func Respond(ctx context.Context, ctrl *session.Controller, body string) []string {
	if cmd, arg, ok := parseCommand(body); ok {
		return runCommand(ctx, ctrl, cmd, arg)
	}
	return submit(ctx, ctrl, body)
}

func submit(ctx context.Context, ctrl *session.Controller, body string) []string {
	err := ctrl.Submit(ctx, body, nil)
	switch {
	case errors.Is(err, session.ErrBusy):
		return []string{busyReply}
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrEmptyInput):
		return nil
	}
	// Offline and application failures are part of the rendered state.
	return Describe(view.Render(ctrl.Snapshot()))
}

func runCommand(ctx context.Context, ctrl *session.Controller, cmd, arg string) []string {
	var err error
	switch cmd {
	case "help":
		return []string{helpText}
	case "consent":
		if err = ctrl.SetConsentChecked(true); err == nil {
			err = ctrl.AcceptConsent()
		}
	case "retry":
		err = ctrl.Retry(ctx)
		if errors.Is(err, session.ErrInvalidState) {
			return []string{nothingToRetry}
		}
	case "form":
		return form(ctx, ctrl, arg)
	default:
		return []string{fmt.Sprintf(unknownCmdFormat, "!"+cmd, helpText)}
	}
	if errors.Is(err, session.ErrBusy) {
		return []string{busyReply}
	}
	return Describe(view.Render(ctrl.Snapshot()))
}

func form(ctx context.Context, ctrl *session.Controller, arg string) []string {
	state := ctrl.State()
	if state == session.StateOffline {
		if err := ctrl.UseFormFallback(); err != nil {
			return []string{formUnavailable}
		}
		state = session.StateFormFallback
	}
	if state != session.StateFormFallback {
		return []string{formUnavailable}
	}
	if strings.TrimSpace(arg) == "" {
		return Describe(view.Render(ctrl.Snapshot()))
	}

	ack, err := ctrl.SubmitFallbackForm(ctx, ParseFormValues(arg))
	var formErr *session.FormError
	switch {
	case errors.As(err, &formErr):
		lines := []string{"Please check these fields:"}
		for _, issue := range formErr.Issues {
			lines = append(lines, fmt.Sprintf("  %s: %s", issue.Key, issue.Message))
		}
		return lines
	case err != nil:
		return Describe(view.Render(ctrl.Snapshot()))
	}
	return []string{ack}
}

func (r *Router) reply(ctx context.Context, msg domain.InboundMessage, lines []string) {
	body := strings.TrimSpace(strings.Join(lines, "\n"))
	if body == "" {
		return
	}
	if err := r.SendTo(ctx, msg.ChannelID, msg.From, body); err != nil {
		r.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("to", msg.From).
			Msg("failed to send reply")
	}
}

// SendTo sends a message to a specific channel.
func (r *Router) SendTo(ctx context.Context, channelID, target, body string) error {
	return r.channels.Send(ctx, domain.OutboundMessage{
		ChannelID: channelID,
		To:        target,
		Body:      body,
	})
}

// parseCommand splits "!name args" into its parts.
func parseCommand(body string) (cmd, arg string, ok bool) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "!") || len(body) == 1 {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(body[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg), true
}
