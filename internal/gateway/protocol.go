package gateway

import (
	"encoding/json"
	"errors"
	"time"
)

// ProtocolVersion is the widget protocol spoken by this server.
const ProtocolVersion = 1

const (
	// maxPayload bounds a single inbound frame.
	maxPayload = 1 << 20

	// pongWait is how long a socket may stay silent before it is dropped.
	// Pings go out a little more often than that.
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed to visitor sockets.
const (
	EventConnectChallenge = "connect.challenge"
	EventSessionView      = "session.view"
)

// Frame is the envelope of every WebSocket message. Requests carry ID,
// Method and Params; responses carry ID, OK and either Payload or Error;
// events carry Event, Seq and Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

var (
	errMissingID     = errors.New("request frame has no id")
	errMissingMethod = errors.New("request frame has no method")
)

// checkRequest reports why f cannot be dispatched as a request.
func (f Frame) checkRequest() error {
	switch {
	case f.ID == "":
		return errMissingID
	case f.Method == "":
		return errMissingMethod
	}
	return nil
}

// ErrorShape is the error body of response frames and HTTP errors.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ConnectParams open a visitor connection.
type ConnectParams struct {
	MinProtocol int        `json:"minProtocol"`
	MaxProtocol int        `json:"maxProtocol"`
	Client      ClientInfo `json:"client"`
	Locale      string     `json:"locale,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
}

// ClientInfo identifies the embedding widget build.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol int          `json:"protocol"`
	Server   ServerInfo   `json:"server"`
	Session  SessionInfo  `json:"session"`
	Features Features     `json:"features"`
	Policy   ServerPolicy `json:"policy"`
}

type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// SessionInfo names the visitor session bound to the connection.
type SessionInfo struct {
	SessionID string `json:"sessionId"`
	AgentID   string `json:"agentId"`
}

type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy tells the widget the limits it must respect.
type ServerPolicy struct {
	MaxPayload     int `json:"maxPayload"`
	TickIntervalMs int `json:"tickIntervalMs"`
}

func defaultPolicy() ServerPolicy {
	return ServerPolicy{
		MaxPayload:     maxPayload,
		TickIntervalMs: int(pingInterval / time.Millisecond),
	}
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// NewRequest builds a request frame. The server never sends requests; the
// constructor exists for widget-side code and tests.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := rawJSON(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a successful response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Error: &e}
}

// NewEvent builds an event frame with sequence number seq.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := rawJSON(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Seq: seq, Payload: raw}, nil
}
