package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/soyeahso/chatform/internal/agents"
	"github.com/soyeahso/chatform/internal/exchange"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/view"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the RPC and operator status endpoints fill the rest.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, ErrorShape{
		Code:    "not_found",
		Message: "no route for " + r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, shape ErrorShape) {
	writeJSON(w, status, map[string]ErrorShape{"error": shape})
}

// RequestHandler processes an incoming RPC request frame from a visitor.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs. Ctx ends when the
// visitor disconnects.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server

	inflight *sync.WaitGroup
}

// Go finishes the request in the background so the visitor's next request
// can start. The connection waits for fn before it is torn down.
func (rc *RequestContext) Go(fn func()) {
	if rc.inflight == nil {
		fn()
		return
	}
	rc.inflight.Add(1)
	go func() {
		defer rc.inflight.Done()
		fn()
	}()
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Client.log.Debug().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail sends the error response matching err.
func (rc *RequestContext) Fail(err error) {
	rc.Client.RespondError(rc.Frame.ID, errorShape(err))
}

// RespondView answers with the current rendered session.
func (rc *RequestContext) RespondView() {
	rc.Respond(view.Render(rc.Client.Session.Snapshot()))
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// errorShape classifies session, agent and exchange errors for visitors.
func errorShape(err error) ErrorShape {
	var formErr *session.FormError
	var appErr *exchange.ApplicationError
	switch {
	case errors.Is(err, session.ErrBusy):
		return ErrorShape{Code: "busy", Message: "a message is already being sent", Retryable: true}
	case errors.Is(err, session.ErrInvalidState):
		return ErrorShape{Code: "invalid_state", Message: "not allowed right now"}
	case errors.Is(err, session.ErrConsentNotChecked):
		return ErrorShape{Code: "consent_required", Message: "please check the consent box first"}
	case errors.Is(err, session.ErrEmptyInput):
		return ErrorShape{Code: "invalid_params", Message: "message is empty"}
	case errors.Is(err, session.ErrClosed):
		return ErrorShape{Code: "closed", Message: "session closed"}
	case errors.As(err, &formErr):
		return ErrorShape{Code: "invalid_form", Message: "please correct the highlighted fields", Details: formErr.Issues}
	case errors.Is(err, agents.ErrAgentNotFound):
		return ErrorShape{Code: "not_found", Message: "agent not found"}
	case errors.As(err, &appErr):
		return ErrorShape{Code: "exchange_error", Message: exchange.UserMessage(err), Retryable: true}
	case errors.Is(err, agents.ErrUnavailable):
		return ErrorShape{Code: "unavailable", Message: "agent configuration is unavailable", Retryable: true}
	case exchange.IsNetwork(err):
		return ErrorShape{Code: "offline", Message: "the assistant is unreachable", Retryable: true}
	default:
		return ErrorShape{Code: "internal", Message: "internal error"}
	}
}

// agentStatus maps a provider error to an HTTP status.
func agentStatus(err error) (int, ErrorShape) {
	var verr *agents.ValidationError
	switch {
	case errors.Is(err, agents.ErrAgentNotFound):
		return http.StatusNotFound, ErrorShape{Code: "not_found", Message: "agent not found"}
	case errors.As(err, &verr):
		return http.StatusInternalServerError, ErrorShape{Code: "invalid_config", Message: verr.Error()}
	case errors.Is(err, agents.ErrUnavailable):
		return http.StatusServiceUnavailable, ErrorShape{Code: "unavailable", Message: "agent configuration is unavailable", Retryable: true}
	default:
		return http.StatusInternalServerError, ErrorShape{Code: "internal", Message: "internal error"}
	}
}
