package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/config"
	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/hooks"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/store"
	"github.com/soyeahso/chatform/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operatorToken = "op-token"

type exchangeFunc func(ctx context.Context, req exchange.Request) (*exchange.Response, error)

func (f exchangeFunc) Send(ctx context.Context, req exchange.Request) (*exchange.Response, error) {
	return f(ctx, req)
}

// echoExchange replies without extracting anything, so each message fills
// the current field.
var echoExchange = exchangeFunc(func(_ context.Context, req exchange.Request) (*exchange.Response, error) {
	return &exchange.Response{AssistantMessage: "Got **" + req.Message + "**"}, nil
})

var testAgents = agents.ProviderFunc(func(_ context.Context, id string) (*domain.AgentConfig, error) {
	switch id {
	case "lead":
		return &domain.AgentConfig{
			ID:   "lead",
			Name: "Lead Bot",
			Fields: []domain.FieldSpec{
				{Key: "name", Label: "Name", Type: domain.FieldText, Required: true},
				{Key: "email", Label: "Email", Type: domain.FieldEmail, Required: true},
			},
		}, nil
	case "gated":
		return &domain.AgentConfig{
			ID:              "gated",
			Name:            "Gated",
			Fields:          []domain.FieldSpec{{Key: "name", Label: "Name", Type: domain.FieldText}},
			ConsentRequired: true,
			ConsentText:     "We store your answers.",
		}, nil
	case "down":
		return nil, fmt.Errorf("%w: connection refused", agents.ErrUnavailable)
	default:
		return nil, agents.ErrAgentNotFound
	}
})

type fixture struct {
	srv      *Server
	ts       *httptest.Server
	sessions *session.Manager
	subs     *store.MemorySubmissions
}

func newFixture(t *testing.T, svc exchange.Service, opts ...ServerOption) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth.Token = operatorToken

	log := testLog()
	subs := store.NewMemorySubmissions()
	hk := hooks.NewManager(log)
	hk.On(hooks.EventSessionCompleted, "store", store.SubmissionHook(subs, log))

	sessions := session.NewManager(testAgents, svc, hk, log)
	opts = append([]ServerOption{WithHooks(hk), WithSubmissions(subs)}, opts...)
	srv := New(cfg, testAgents, sessions, log, opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{srv: srv, ts: ts, sessions: sessions, subs: subs}
}

func (f *fixture) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", f.ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorShape {
	t.Helper()
	var body map[string]ErrorShape
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

// --- HTTP tests ---

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, echoExchange)

	resp := f.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	f := newFixture(t, echoExchange)

	resp := f.get(t, "/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, resp).Code)
}

func TestAgentEndpoint(t *testing.T) {
	f := newFixture(t, echoExchange)

	resp := f.get(t, "/agents/lead", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg domain.AgentConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, "Lead Bot", cfg.Name)
	assert.Len(t, cfg.Fields, 2)

	resp = f.get(t, "/agents/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/agents/down", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.True(t, decodeError(t, resp).Retryable)
}

func TestAgentFormEndpoint(t *testing.T) {
	f := newFixture(t, echoExchange)

	resp := f.get(t, "/agents/lead/form", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `<input type="email" name="email" required>`)
}

func TestSubmissionsEndpoint_RequiresToken(t *testing.T) {
	f := newFixture(t, echoExchange)

	resp := f.get(t, "/agents/lead/submissions", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.get(t, "/agents/lead/submissions", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "token_mismatch", decodeError(t, resp).Message)

	resp = f.get(t, "/agents/lead/submissions?limit=-1", operatorToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/agents/lead/submissions", operatorToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Submissions []domain.Submission `json:"submissions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotNil(t, body.Submissions)
	assert.Empty(t, body.Submissions)
}

func TestSubmissionsEndpoint_NotEnabled(t *testing.T) {
	f := newFixture(t, echoExchange)
	f.srv.submissions = nil
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	req, _ := http.NewRequest("GET", ts.URL+"/agents/lead/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, echoExchange)

	assert.Equal(t, http.StatusUnauthorized, f.get(t, "/status", "").StatusCode)

	resp := f.get(t, "/status", operatorToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 0, status.Sessions)
	assert.NotNil(t, status.Channels)
	assert.Equal(t, map[string]int{"session_completed": 1}, status.Hooks)
}

func TestChatFunctionRoute(t *testing.T) {
	f := newFixture(t, echoExchange)
	resp := f.get(t, "/functions/chat", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "not mounted without a chat service")

	f = newFixture(t, echoExchange, WithChatFunction(echoExchange))
	body := `{"action":"send_message","agentId":"lead","message":"hi","collectedFields":{}}`
	req, _ := http.NewRequest("POST", f.ts.URL+"/functions/chat", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var out exchange.Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.Equal(t, "Got **hi**", out.AssistantMessage)
}

// --- WebSocket tests ---

func dialVisitor(t *testing.T, f *fixture, agentID string) (*websocket.Conn, HelloOK) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/agents/" + agentID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, EventConnectChallenge, challenge.Event)

	req, err := NewRequest("connect-1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "widget", Version: "1.0.0", Platform: "web"},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	res := readUntil(t, conn, isResponse("connect-1"))
	require.NotNil(t, res.OK)
	require.True(t, *res.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(res.Payload, &hello))
	return conn, hello
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func isResponse(id string) func(Frame) bool {
	return func(f Frame) bool { return f.Type == FrameTypeResponse && f.ID == id }
}

func isView(state session.State) func(Frame) bool {
	return func(f Frame) bool {
		if f.Event != EventSessionView {
			return false
		}
		var v view.VisitorView
		return json.Unmarshal(f.Payload, &v) == nil && v.State == state
	}
}

func decodeView(t *testing.T, payload json.RawMessage) view.VisitorView {
	t.Helper()
	var v view.VisitorView
	require.NoError(t, json.Unmarshal(payload, &v))
	return v
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	return readUntil(t, conn, isResponse(id))
}

func TestWebSocket_Handshake(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, hello := dialVisitor(t, f, "lead")

	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.NotEmpty(t, hello.Session.SessionID)
	assert.Equal(t, "lead", hello.Session.AgentID)
	assert.Contains(t, hello.Features.Methods, "session.send")
	assert.Contains(t, hello.Features.Events, EventSessionView)

	ev := readUntil(t, conn, isView(session.StateActive))
	v := decodeView(t, ev.Payload)
	assert.Equal(t, "Lead Bot", v.Header.Name)
	assert.Equal(t, hello.Session.SessionID, v.SessionID)
	require.NotNil(t, v.Composer)
	assert.Equal(t, "Name", v.Composer.Placeholder)
}

func TestWebSocket_HandshakeRejectsOtherMethod(t *testing.T) {
	f := newFixture(t, echoExchange)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/agents/lead/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, _ := NewRequest("x", "session.send", sendParams{Text: "hi"})
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "protocol_error", res.Error.Code)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestWebSocket_UnknownMethod(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "lead")

	res := call(t, conn, "r1", "chat.send", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, "method_not_found", res.Error.Code)
}

func TestWebSocket_MalformedFrameKeepsConnection(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "lead")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	res := readUntil(t, conn, func(fr Frame) bool { return fr.Type == FrameTypeResponse && fr.Error != nil })
	assert.Equal(t, "invalid_frame", res.Error.Code)

	require.NoError(t, conn.WriteJSON(Frame{Type: FrameTypeRequest, Method: "session.state"}))
	res = readUntil(t, conn, func(fr Frame) bool { return fr.Type == FrameTypeResponse && fr.Error != nil })
	assert.Contains(t, res.Error.Message, "no id")

	res = call(t, conn, "r1", "session.state", nil)
	assert.True(t, *res.OK)
}

func TestWebSocket_CollectsFieldsAndStoresSubmission(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, hello := dialVisitor(t, f, "lead")
	readUntil(t, conn, isView(session.StateActive))

	res := call(t, conn, "r1", "session.send", sendParams{Text: "Alice"})
	require.True(t, *res.OK)
	v := decodeView(t, res.Payload)
	require.Len(t, v.Transcript, 2)
	assert.Equal(t, "<p>Got <strong>Alice</strong></p>", v.Transcript[1].HTML)
	require.NotNil(t, v.Progress)
	assert.Equal(t, 50.0, v.Progress.Percent)
	assert.Equal(t, "Email", v.Composer.Placeholder)

	res = call(t, conn, "r2", "session.send", sendParams{Text: "alice@example.com"})
	require.True(t, *res.OK)
	v = decodeView(t, res.Payload)
	assert.Equal(t, 100.0, v.Progress.Percent)

	resp := f.get(t, "/agents/lead/submissions", operatorToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Submissions []domain.Submission `json:"submissions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Submissions, 1)
	sub := body.Submissions[0]
	assert.Equal(t, hello.Session.SessionID, sub.SessionID)
	assert.Equal(t, domain.TextValue("Alice"), sub.Fields["name"])
	assert.Equal(t, domain.TextValue("alice@example.com"), sub.Fields["email"])
	assert.Len(t, sub.Transcript, 4)
}

func TestWebSocket_EmptyMessage(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "lead")
	readUntil(t, conn, isView(session.StateActive))

	res := call(t, conn, "r1", "session.send", sendParams{Text: "   "})
	require.NotNil(t, res.Error)
	assert.Equal(t, "invalid_params", res.Error.Code)
}

func TestWebSocket_BusyWhileSending(t *testing.T) {
	release := make(chan struct{})
	slow := exchangeFunc(func(ctx context.Context, req exchange.Request) (*exchange.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &exchange.Response{AssistantMessage: "ok"}, nil
	})
	f := newFixture(t, slow)
	conn, _ := dialVisitor(t, f, "lead")
	readUntil(t, conn, isView(session.StateActive))

	first, _ := NewRequest("r1", "session.send", sendParams{Text: "Alice"})
	require.NoError(t, conn.WriteJSON(first))
	readUntil(t, conn, isView(session.StateSending))

	res := call(t, conn, "r2", "session.send", sendParams{Text: "again"})
	require.NotNil(t, res.Error)
	assert.Equal(t, "busy", res.Error.Code)
	assert.True(t, res.Error.Retryable)

	close(release)
	res = readUntil(t, conn, isResponse("r1"))
	assert.True(t, *res.OK)
}

func TestWebSocket_ConsentGate(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "gated")

	ev := readUntil(t, conn, isView(session.StateConsentGate))
	v := decodeView(t, ev.Payload)
	require.NotNil(t, v.Consent)
	assert.Equal(t, "We store your answers.", v.Consent.Text)
	assert.Nil(t, v.Composer)

	res := call(t, conn, "r1", "session.send", sendParams{Text: "hi"})
	require.NotNil(t, res.Error)
	assert.Equal(t, "invalid_state", res.Error.Code)

	res = call(t, conn, "r2", "session.consent.accept", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, "consent_required", res.Error.Code)

	res = call(t, conn, "r3", "session.consent.check", consentCheckParams{Checked: true})
	require.True(t, *res.OK)
	assert.True(t, decodeView(t, res.Payload).Consent.CanAccept)

	res = call(t, conn, "r4", "session.consent.accept", nil)
	require.True(t, *res.OK)
	assert.Equal(t, session.StateActive, decodeView(t, res.Payload).State)
}

func TestWebSocket_UnknownAgent(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "ghost")

	ev := readUntil(t, conn, isView(session.StateNotFound))
	v := decodeView(t, ev.Payload)
	require.NotNil(t, v.Notice)
	assert.False(t, v.Notice.CanRetry)
}

func TestWebSocket_OfflineFormFallback(t *testing.T) {
	offline := exchangeFunc(func(context.Context, exchange.Request) (*exchange.Response, error) {
		return nil, &exchange.NetworkError{Op: "send", Err: errors.New("connection refused")}
	})
	f := newFixture(t, offline)
	conn, _ := dialVisitor(t, f, "lead")
	readUntil(t, conn, isView(session.StateActive))

	res := call(t, conn, "r1", "session.send", sendParams{Text: "Alice"})
	require.NotNil(t, res.Error)
	assert.Equal(t, "offline", res.Error.Code)
	assert.True(t, res.Error.Retryable)

	res = call(t, conn, "r2", "session.fallback", nil)
	require.True(t, *res.OK)
	v := decodeView(t, res.Payload)
	require.NotNil(t, v.Form)
	assert.Len(t, v.Form.Inputs, 2)
	assert.Nil(t, v.Transcript)

	res = call(t, conn, "r3", "session.fallback.submit", fallbackSubmitParams{Values: map[string]string{"name": "Bob", "email": "nope"}})
	require.NotNil(t, res.Error)
	assert.Equal(t, "invalid_form", res.Error.Code)

	res = call(t, conn, "r4", "session.fallback.submit", fallbackSubmitParams{Values: map[string]string{"name": "Bob", "email": "bob@example.com"}})
	require.True(t, *res.OK)
	var ack map[string]string
	require.NoError(t, json.Unmarshal(res.Payload, &ack))
	assert.NotEmpty(t, ack["ack"])
}

func TestWebSocket_DisconnectClosesSession(t *testing.T) {
	f := newFixture(t, echoExchange)
	conn, _ := dialVisitor(t, f, "lead")
	readUntil(t, conn, isView(session.StateActive))
	assert.Equal(t, 1, f.sessions.Len())

	conn.Close()
	assert.Eventually(t, func() bool { return f.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// --- error classification ---

func TestErrorShape(t *testing.T) {
	tests := []struct {
		err       error
		code      string
		retryable bool
	}{
		{session.ErrBusy, "busy", true},
		{session.ErrInvalidState, "invalid_state", false},
		{session.ErrConsentNotChecked, "consent_required", false},
		{session.ErrEmptyInput, "invalid_params", false},
		{session.ErrClosed, "closed", false},
		{&session.FormError{Issues: []session.FieldIssue{{Key: "email", Message: "invalid"}}}, "invalid_form", false},
		{fmt.Errorf("loading agent x: %w", agents.ErrAgentNotFound), "not_found", false},
		{fmt.Errorf("loading agent x: %w", agents.ErrUnavailable), "unavailable", true},
		{&exchange.ApplicationError{Message: "quota exceeded"}, "exchange_error", true},
		{&exchange.NetworkError{Op: "send"}, "offline", true},
		{context.DeadlineExceeded, "offline", true},
		{errors.New("boom"), "internal", false},
	}
	for _, tt := range tests {
		shape := errorShape(tt.err)
		assert.Equal(t, tt.code, shape.Code, tt.err.Error())
		assert.Equal(t, tt.retryable, shape.Retryable, tt.err.Error())
	}

	assert.Equal(t, "quota exceeded", errorShape(&exchange.ApplicationError{Message: "quota exceeded"}).Message)
}

func TestMethods_Sorted(t *testing.T) {
	f := newFixture(t, echoExchange)
	assert.Equal(t, []string{
		"health",
		"session.consent.accept",
		"session.consent.check",
		"session.fallback",
		"session.fallback.submit",
		"session.retry",
		"session.send",
		"session.state",
	}, f.srv.Methods())
}

func TestServer_StartServesUntilCancelled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Bind = "loopback"
	cfg.Gateway.Port = 0
	sessions := session.NewManager(testAgents, echoExchange, nil, testLog())
	srv := New(cfg, testAgents, sessions, testLog())
	assert.Empty(t, srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(srv.Addr(), "127.0.0.1:"))
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + srv.Addr() + "/health")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestServer_StartListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := config.Defaults()
	cfg.Gateway.Bind = "loopback"
	cfg.Gateway.Port = busy.Addr().(*net.TCPAddr).Port
	srv := New(cfg, testAgents, session.NewManager(testAgents, echoExchange, nil, testLog()), testLog())

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on")
	assert.Empty(t, srv.Addr())
}

func TestWebSocket_RequestsHandledInOrder(t *testing.T) {
	f := newFixture(t, echoExchange)

	for i := range 20 {
		conn, _ := dialVisitor(t, f, "gated")

		// Written back to back, before the agent has even loaded.
		for _, req := range []struct {
			id, method string
			params     any
		}{
			{"check", "session.consent.check", consentCheckParams{Checked: true}},
			{"accept", "session.consent.accept", nil},
			{"send", "session.send", sendParams{Text: "Alice"}},
		} {
			frame, err := NewRequest(req.id, req.method, req.params)
			require.NoError(t, err)
			require.NoError(t, conn.WriteJSON(frame))
		}

		for _, id := range []string{"check", "accept", "send"} {
			res := readUntil(t, conn, isResponse(id))
			require.Nil(t, res.Error, "round %d: %s: %+v", i, id, res.Error)
			require.True(t, *res.OK)
		}
		conn.Close()
	}
}
