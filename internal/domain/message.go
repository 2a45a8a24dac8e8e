package domain

import "time"

// Role identifies who authored a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in a visitor transcript. Transcripts are
// append-only and ordered by non-decreasing timestamp.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsentState tracks the consent checkbox and the gate it controls.
type ConsentState struct {
	Checked  bool `json:"checked"`
	Accepted bool `json:"accepted"`
}

// Submission is a completed visitor session, persisted after the fact.
type Submission struct {
	ID          string                `json:"id"`
	AgentID     string                `json:"agentId"`
	SessionID   string                `json:"sessionId"`
	Fields      map[string]FieldValue `json:"fields"`
	Transcript  []ChatMessage         `json:"transcript,omitempty"`
	CompletedAt time.Time             `json:"completedAt"`
}
