// Package gateway serves visitor sessions over WebSocket and the public
// HTTP endpoints of a chatform server.
package gateway

import (
	"cmp"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/channel"
	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/logging"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/store"
	"github.com/soyeahso/chatform/internal/version"
	"github.com/soyeahso/chatform/internal/view"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second

	// requestQueue bounds the requests a visitor may have waiting.
	requestQueue = 32
)

// Server is the chatform HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	token    string
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	agents   agents.Provider
	sessions *session.Manager

	// Optional collaborators; nil disables the matching endpoints.
	chat        exchange.Service
	submissions store.Submissions
	channels    *channel.Registry
	hooks       *hooks.Manager

	startedAt   time.Time
	addr        atomic.Value
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithChannels sets the channel registry for status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) {
		s.channels = ch
	}
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithChatFunction serves svc as POST /functions/chat.
func WithChatFunction(svc exchange.Service) ServerOption {
	return func(s *Server) {
		s.chat = svc
	}
}

// WithSubmissions exposes completed sessions to operators.
func WithSubmissions(subs store.Submissions) ServerOption {
	return func(s *Server) {
		s.submissions = subs
	}
}

// New creates a gateway server. Visitor sessions are created through
// sessions; provider answers the public agent endpoints.
func New(cfg config.Config, provider agents.Provider, sessions *session.Manager, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		token:       ResolveToken(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		agents:      provider,
		sessions:    sessions,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names in sorted order.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// bindHosts maps a bind mode to the interface it listens on. Unknown modes
// get loopback.
var bindHosts = map[string]string{
	"loopback": "127.0.0.1",
	"lan":      "0.0.0.0",
	"auto":     "0.0.0.0",
}

func resolveBindAddr(cfg config.GatewayConfig) string {
	host, ok := bindHosts[cfg.Bind]
	if cfg.Bind == "custom" {
		host, ok = cmp.Or(cfg.CustomBindHost, "0.0.0.0"), true
	}
	if !ok {
		host = bindHosts["loopback"]
	}
	return net.JoinHostPort(host, strconv.Itoa(cfg.Port))
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

// listen opens the gateway socket, wrapped in TLS when configured.
func (s *Server) listen() (net.Listener, error) {
	addr := resolveBindAddr(s.cfg.Gateway)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	tlsCfg := s.cfg.Gateway.TLS
	if !tlsCfg.Enabled {
		if s.cfg.Gateway.Bind != "loopback" {
			s.log.Warn().Msg("TLS is not enabled; operator tokens travel in cleartext")
		}
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(tlsCfg.CertPath, tlsCfg.KeyPath)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Start serves visitors until ctx ends, then closes every visitor socket
// and session before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.addr.Store(ln.Addr().String())

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	stopLimiter := make(chan struct{})
	go s.authLimiter.run(stopLimiter)

	s.log.Info().
		Str("addr", s.Addr()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("tls", s.cfg.Gateway.TLS.Enabled).
		Bool("operatorAuth", s.token != "").
		Bool("chatFunction", s.chat != nil).
		Strs("methods", s.Methods()).
		Msg("gateway server ready")
	s.emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": s.Addr()})

	served := make(chan error, 1)
	go func() { served <- s.httpServer.Serve(ln) }()

	select {
	case err := <-served:
		close(stopLimiter)
		return err
	case <-ctx.Done():
	}

	close(stopLimiter)
	s.log.Info().Int("visitors", s.clients.Count()).Msg("shutting down gateway server")
	s.emit(context.Background(), hooks.EventGatewayStop, nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.clients.CloseAll()
	s.sessions.CloseAll()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, event, data)
	}
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	addr, _ := s.addr.Load().(string)
	return addr
}

// handleWebSocket upgrades a visitor connection, binds it to a new session
// for the agent in the path, and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		writeError(w, http.StatusBadRequest, ErrorShape{Code: "invalid_params", Message: "agent id is required"})
		return
	}
	if wait := s.authLimiter.retryAfter(r.RemoteAddr); wait > 0 {
		s.log.Warn().Str("remote", r.RemoteAddr).Dur("retryAfter", wait).Msg("rate limited after failed handshakes")
		writeRateLimited(w, wait)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, connectID, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
		s.sessions.Remove(client.ConnID)
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	ctrl, _ := s.sessions.GetOrCreate(client.ConnID, agentID)
	client.Session = ctrl
	client.Start()
	if err := s.clients.Add(client); err != nil {
		s.log.Error().Err(err).Msg("registering visitor")
		return
	}

	if err := s.sendHello(client, connectID); err != nil {
		s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("sending hello failed")
		return
	}

	ctrl.OnChange(func(snap session.Snapshot) {
		s.pushView(client, snap)
	})
	s.pushView(client, ctrl.Snapshot())

	load := func() {
		if err := ctrl.Load(ctx); err != nil {
			client.log.Info().Err(err).Msg("agent load did not succeed")
		}
	}
	s.readLoop(ctx, client, &inflight, load)
}

// handshake runs the connect exchange. Flow: server sends challenge →
// client sends connect → server validates. It returns the connect request
// ID for the hello response.
func (s *Server) handshake(conn *websocket.Conn) (*Client, string, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent(EventConnectChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, "", fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, "", fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, "", fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, "", fmt.Errorf("parsing connect frame: %w", err)
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, "", fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
			return nil, "", fmt.Errorf("parsing connect params: %w", err)
		}
	}
	if !protocolSupported(params) {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "unsupported protocol version")
		return nil, "", fmt.Errorf("unsupported protocol range %d-%d", params.MinProtocol, params.MaxProtocol)
	}

	return NewClient(conn, params.Client, s.log.Sub("ws")), frame.ID, nil
}

// protocolSupported accepts clients that omit the range.
func protocolSupported(p ConnectParams) bool {
	if p.MinProtocol == 0 && p.MaxProtocol == 0 {
		return true
	}
	return p.MinProtocol <= ProtocolVersion && (p.MaxProtocol == 0 || ProtocolVersion <= p.MaxProtocol)
}

func (s *Server) sendHello(client *Client, reqID string) error {
	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Current().Commit,
			ConnID:  client.ConnID,
		},
		Session: SessionInfo{
			SessionID: client.Session.ID(),
			AgentID:   client.Session.AgentID(),
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{EventConnectChallenge, EventSessionView},
		},
		Policy: defaultPolicy(),
	}
	if err := client.Respond(reqID, hello); err != nil {
		return err
	}

	client.log.Info().
		Str("clientId", client.Info.ID).
		Str("clientVersion", client.Info.Version).
		Str("sessionId", client.Session.ID()).
		Str("agentId", client.Session.AgentID()).
		Msg("visitor session opened")
	return nil
}

// pushView sends the rendered visitor surface for snap.
func (s *Server) pushView(client *Client, snap session.Snapshot) {
	if err := client.SendEvent(EventSessionView, view.Render(snap), s.eventSeq.Add(1)); err != nil && !errors.Is(err, ErrClientClosed) {
		client.log.Debug().Err(err).Msg("view push failed")
	}
}

// readLoop processes incoming frames until the visitor disconnects.
// Requests are handled one at a time in arrival order by a single worker
// that first runs start, so requests sent during the agent load wait for
// it. The socket keeps reading (and answering pings) meanwhile.
func (s *Server) readLoop(ctx context.Context, client *Client, inflight *sync.WaitGroup, start func()) {
	queue := make(chan Frame, requestQueue)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		start()
		for frame := range queue {
			s.dispatch(ctx, client, frame, inflight)
		}
	}()
	defer close(queue)

	for {
		frame, err := client.ReadFrame()
		var bad *badFrameError
		if errors.As(err, &bad) {
			client.RespondError("", ErrorShape{Code: "invalid_frame", Message: bad.Error()})
			continue
		}
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.log.Debug().Msg("visitor closed connection")
			} else {
				client.log.Debug().Err(err).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			client.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		if err := frame.checkRequest(); err != nil {
			client.RespondError(frame.ID, ErrorShape{Code: "invalid_frame", Message: err.Error()})
			continue
		}

		select {
		case queue <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame, inflight *sync.WaitGroup) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	rc := &RequestContext{
		Ctx:      ctx,
		Client:   client,
		Frame:    frame,
		Server:   s,
		inflight: inflight,
	}
	handler(rc)
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
