// Package exchange implements the message exchange: one visitor message
// plus the fields collected so far in, one assistant reply plus any newly
// extracted field values out.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/soyeahso/chatform/internal/domain"
)

// ActionSendMessage is the only action the chat function accepts.
const ActionSendMessage = "send_message"

// Request is the body sent to the chat function.
type Request struct {
	Action          string                       `json:"action"`
	AgentID         string                       `json:"agentId"`
	Message         string                       `json:"message"`
	CollectedFields map[string]domain.FieldValue `json:"collectedFields"`
}

// Response is the chat function's answer. A nil UpdatedFields means the
// function extracted nothing; a non-nil map, even an empty one, is
// authoritative.
type Response struct {
	AssistantMessage string                       `json:"assistantMessage,omitempty"`
	UpdatedFields    map[string]domain.FieldValue `json:"updatedFields"`
	Error            string                       `json:"error,omitempty"`
}

// Service processes one exchange.
type Service interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// NetworkError means the request never produced an answer from the
// service: DNS or connection failure, timeout, or an upstream gateway
// reporting the function unreachable.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exchange %s: network failure", e.Op)
	}
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ApplicationError means the service answered and reported a failure.
type ApplicationError struct {
	Message string
	Status  int
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exchange: %s (status %d)", e.Message, e.Status)
	}
	return "exchange: " + e.Message
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// IsNetwork reports whether err means the service could not be reached.
// Typed errors decide; message text is never inspected.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// UserMessage returns the text to show a visitor for an application failure.
func UserMessage(err error) string {
	var appErr *ApplicationError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Something went wrong while sending your message. Please try again."
}
