// Package irc implements the IRC visitor channel using the girc library.
// Visitors talk to the bot in direct messages; each nick is one visitor.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"
	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/logging"
	"github.com/soyeahso/chatform/internal/version"
)

// ChannelID is the identifier of the IRC channel.
const ChannelID = "irc"

var (
	ErrNotConnected = errors.New("irc: not connected")
	ErrNoRecipient  = errors.New("irc: message has no recipient")
)

// maxLineBytes keeps each PRIVMSG well under the 512 byte line limit once
// the prefix and target are added.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return ChannelID }

// AgentID returns the agent visitors on this channel talk to.
func (c *Channel) AgentID() string { return c.cfg.AgentID }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

func (c *Channel) port() int {
	if c.cfg.Port != 0 {
		return c.cfg.Port
	}
	if c.cfg.UseTLS {
		return 6697
	}
	return 6667
}

func (c *Channel) clientConfig() girc.Config {
	cfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    c.port(),
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "chatform assistant",
		SSL:     c.cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if c.cfg.UseTLS {
		cfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		cfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		cfg.ServerPass = c.cfg.Password
	}
	return cfg
}

// Start connects to the IRC server and blocks until the connection ends
// or ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	client := girc.New(c.clientConfig())

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()
	c.registerHandlers(client)

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", c.port()).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Str("agentId", c.cfg.AgentID).
		Msg("connecting to IRC")

	connErr := make(chan error, 1)
	go func() { connErr <- client.Connect() }()

	select {
	case err := <-connErr:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop sends QUIT when connected. Start returns once the server closes
// the connection.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("sending QUIT")
		c.client.Quit("chatform shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a reply to a visitor. Each line of the body becomes one
// PRIVMSG; long lines are wrapped.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if msg.To == "" {
		return ErrNoRecipient
	}
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		client.Cmd.Message(msg.To, line)
	}

	c.log.Debug().
		Str("to", msg.To).
		Int("lines", len(lines)).
		Msg("sent IRC message")
	return nil
}

func (c *Channel) registerHandlers(client *girc.Client) {
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")

	for _, ch := range c.cfg.Channels {
		c.log.Debug().Str("channel", ch).Msg("join")
		client.Cmd.Join(ch)
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	self := client.GetNick()

	if e.IsFromChannel() {
		// Point people who address the bot in a channel to a private chat.
		if e.Source != nil && mentions(e.Last(), self) {
			client.Cmd.Message(e.Params[0], fmt.Sprintf("%s: send me a direct message to get started.", e.Source.Name))
		}
		return
	}

	msg, ok := inboundFromEvent(e, self, time.Now())
	if !ok {
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler != nil {
		handler(msg)
	}
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Str("server", c.cfg.Server).Msg("IRC connection lost")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// inboundFromEvent turns a direct PRIVMSG into an inbound visitor
// message. Channel messages, messages from the bot itself and empty
// bodies are skipped.
func inboundFromEvent(e girc.Event, self string, now time.Time) (domain.InboundMessage, bool) {
	if e.Source == nil || e.IsFromChannel() {
		return domain.InboundMessage{}, false
	}
	if strings.EqualFold(e.Source.Name, self) {
		return domain.InboundMessage{}, false
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}
	body = strings.TrimSpace(girc.StripRaw(body))
	if body == "" {
		return domain.InboundMessage{}, false
	}

	return domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: ChannelID,
		From:      e.Source.Name,
		Body:      body,
		Timestamp: now,
	}, true
}

func mentions(body, nick string) bool {
	return nick != "" && strings.Contains(strings.ToLower(body), strings.ToLower(nick))
}

// splitMessage breaks a reply into IRC lines. PRIVMSG cannot carry
// newlines, so each non-empty line is sent on its own; lines longer than
// maxLen bytes are wrapped at the last space, or at a rune boundary when
// there is none.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		for len(line) > maxLen {
			cut := strings.LastIndexByte(line[:maxLen+1], ' ')
			if cut <= 0 {
				cut = maxLen
				for cut > 0 && !utf8.RuneStart(line[cut]) {
					cut--
				}
			}
			chunks = append(chunks, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		if strings.TrimSpace(line) != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
