package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/view"
)

// maxSubmissionsLimit caps the submissions page size.
const maxSubmissionsLimit = 500

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /agents/{id}", s.handleAgent)
	mux.HandleFunc("GET /agents/{id}/form", s.handleAgentForm)
	mux.HandleFunc("GET /agents/{id}/ws", s.handleWebSocket)
	mux.HandleFunc("GET /agents/{id}/submissions", s.requireOperator(s.handleSubmissions))
	mux.HandleFunc("GET /status", s.requireOperator(s.handleStatus))
	if s.chat != nil {
		mux.Handle("/functions/chat", exchange.NewHandler(s.chat, s.token, s.log))
	}

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up the visitor session methods.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("session.state", s.rpcSessionState)
	s.Handle("session.consent.check", s.rpcConsentCheck)
	s.Handle("session.consent.accept", s.rpcConsentAccept)
	s.Handle("session.send", s.rpcSend)
	s.Handle("session.retry", s.rpcRetry)
	s.Handle("session.fallback", s.rpcFallback)
	s.Handle("session.fallback.submit", s.rpcFallbackSubmit)
}

// requireOperator rejects requests without the operator bearer token.
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if wait := s.authLimiter.retryAfter(r.RemoteAddr); wait > 0 {
			writeRateLimited(w, wait)
			return
		}
		if res := AuthorizeRequest(s.token, r); !res.OK {
			s.authLimiter.recordFailure(r.RemoteAddr)
			s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("operator auth failed")
			writeError(w, http.StatusUnauthorized, ErrorShape{Code: "unauthorized", Message: res.Reason})
			return
		}
		next(w, r)
	}
}

// HTTP handlers

// handleAgent returns the public configuration of an agent.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.loadAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleAgentForm renders the plain HTML form for an agent.
func (s *Server) handleAgentForm(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.loadAgent(w, r)
	if !ok {
		return
	}
	html, err := view.RenderForm(cfg).HTML()
	if err != nil {
		s.log.Error().Err(err).Str("agentId", cfg.ID).Msg("rendering form failed")
		writeError(w, http.StatusInternalServerError, ErrorShape{Code: "internal", Message: "internal error"})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func (s *Server) loadAgent(w http.ResponseWriter, r *http.Request) (*domain.AgentConfig, bool) {
	cfg, err := s.agents.Get(r.Context(), r.PathValue("id"))
	if err == nil {
		err = agents.Validate(cfg)
	}
	if err != nil {
		status, shape := agentStatus(err)
		if status >= http.StatusInternalServerError {
			s.log.Warn().Err(err).Str("agentId", r.PathValue("id")).Msg("agent lookup failed")
		}
		writeError(w, status, shape)
		return nil, false
	}
	return cfg, true
}

// handleSubmissions lists completed sessions for an agent, newest first.
func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if s.submissions == nil {
		writeError(w, http.StatusNotFound, ErrorShape{Code: "not_enabled", Message: "submissions are not stored"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrorShape{Code: "invalid_params", Message: "limit must be a non-negative integer"})
			return
		}
		limit = min(n, maxSubmissionsLimit)
	}

	subs, err := s.submissions.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("listing submissions failed")
		writeError(w, http.StatusInternalServerError, ErrorShape{Code: "internal", Message: "internal error", Retryable: true})
		return
	}
	if subs == nil {
		subs = []domain.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// StatusResponse is the operator view of a running server.
type StatusResponse struct {
	Version  string                 `json:"version"`
	Uptime   string                 `json:"uptime"`
	Clients  int                    `json:"clients"`
	Sessions int                    `json:"sessions"`
	ByAgent  map[string]int         `json:"byAgent"`
	Channels []domain.ChannelStatus `json:"channels"`
	Hooks    map[string]int         `json:"hooks,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:  s.version,
		Clients:  s.clients.Count(),
		Sessions: s.sessions.Len(),
		ByAgent:  s.clients.CountByAgent(),
		Channels: []domain.ChannelStatus{},
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	if s.channels != nil {
		resp.Channels = s.channels.Status()
	}
	if s.hooks != nil {
		resp.Hooks = make(map[string]int)
		for _, event := range s.hooks.Events() {
			resp.Hooks[event] = s.hooks.Count(event)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		Sessions: s.sessions.Len(),
	})
}

func (s *Server) rpcSessionState(rc *RequestContext) {
	rc.RespondView()
}

type consentCheckParams struct {
	Checked bool `json:"checked"`
}

func (s *Server) rpcConsentCheck(rc *RequestContext) {
	var p consentCheckParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if err := rc.Client.Session.SetConsentChecked(p.Checked); err != nil {
		rc.Fail(err)
		return
	}
	rc.RespondView()
}

func (s *Server) rpcConsentAccept(rc *RequestContext) {
	if err := rc.Client.Session.AcceptConsent(); err != nil {
		rc.Fail(err)
		return
	}
	rc.RespondView()
}

type sendParams struct {
	Text string          `json:"text"`
	File *domain.FileRef `json:"file,omitempty"`
}

func (s *Server) rpcSend(rc *RequestContext) {
	var p sendParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	// The visitor's message is recorded in order; only the exchange runs
	// alongside later requests, which see the session as busy.
	run, err := rc.Client.Session.BeginSubmit(rc.Ctx, p.Text, p.File)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Go(func() {
		if err := run(); err != nil {
			rc.Fail(err)
			return
		}
		rc.RespondView()
	})
}

func (s *Server) rpcRetry(rc *RequestContext) {
	if err := rc.Client.Session.Retry(rc.Ctx); err != nil {
		rc.Fail(err)
		return
	}
	rc.RespondView()
}

func (s *Server) rpcFallback(rc *RequestContext) {
	if err := rc.Client.Session.UseFormFallback(); err != nil {
		rc.Fail(err)
		return
	}
	rc.RespondView()
}

type fallbackSubmitParams struct {
	Values map[string]string `json:"values"`
}

func (s *Server) rpcFallbackSubmit(rc *RequestContext) {
	var p fallbackSubmitParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	ack, err := rc.Client.Session.SubmitFallbackForm(rc.Ctx, p.Values)
	if err != nil {
		rc.Fail(err)
		return
	}
	rc.Respond(map[string]any{"ack": ack})
}
