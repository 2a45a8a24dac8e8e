package exchange

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/soyeahso/chatform/internal/logging"
)

// Handler serves a Service as the chat function: POST a Request, receive a
// Response. Application failures are reported in the error field of a 200
// response; malformed requests get 400; a missing or wrong bearer token
// gets 401 when a token is configured.
type Handler struct {
	svc   Service
	token string
	log   *logging.Logger
}

// NewHandler creates the HTTP chat function handler.
func NewHandler(svc Service, token string, log *logging.Logger) *Handler {
	return &Handler{svc: svc, token: token, log: log.Sub("chat-function")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeResponse(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}
	if h.token != "" && !bearerMatches(r.Header.Get("Authorization"), h.token) {
		writeResponse(w, http.StatusUnauthorized, Response{Error: "unauthorized"})
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}
	if req.Action != ActionSendMessage {
		writeResponse(w, http.StatusBadRequest, Response{Error: "unsupported action"})
		return
	}
	if req.AgentID == "" {
		writeResponse(w, http.StatusBadRequest, Response{Error: "agentId is required"})
		return
	}

	resp, err := h.svc.Send(r.Context(), req)
	if err != nil {
		var appErr *ApplicationError
		if errors.As(err, &appErr) {
			writeResponse(w, http.StatusOK, Response{Error: appErr.Message})
			return
		}
		h.log.Error().Err(err).Str("agentId", req.AgentID).Msg("chat function failed")
		writeResponse(w, http.StatusInternalServerError, Response{Error: "internal error"})
		return
	}
	writeResponse(w, http.StatusOK, *resp)
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func bearerMatches(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
