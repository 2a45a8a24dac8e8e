// Package view turns session snapshots into the visitor-facing surface:
// what a widget, terminal or chat channel should show, in order.
package view

import (
	"time"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/session"
)

// Messages shown for the non-chat states.
const (
	loadingMessage  = "Loading…"
	notFoundMessage = "This assistant doesn't exist or is no longer available."
	offlineMessage  = "We can't reach the assistant right now. You can try again or fill in a simple form instead."
	formAckMessage  = "Thanks! Your details have been received."
)

// VisitorView is the rendered visitor surface. Sections that must not be
// shown are nil or empty.
type VisitorView struct {
	SessionID        string        `json:"sessionId"`
	Version          uint64        `json:"version"`
	State            session.State `json:"state"`
	Header           Header        `json:"header"`
	Notice           *Notice       `json:"notice,omitempty"`
	Consent          *ConsentView  `json:"consent,omitempty"`
	Transcript       []MessageView `json:"transcript,omitempty"`
	Typing           bool          `json:"typing,omitempty"`
	Progress         *ProgressView `json:"progress,omitempty"`
	Summary          *SummaryView  `json:"summary,omitempty"`
	Banner           string        `json:"banner,omitempty"`
	SuggestedPrompts []string      `json:"suggestedPrompts,omitempty"`
	QuickReplies     []string      `json:"quickReplies,omitempty"`
	Composer         *ComposerView `json:"composer,omitempty"`
	Offline          *OfflineView  `json:"offline,omitempty"`
	Form             *FormView     `json:"form,omitempty"`
}

// Header identifies the agent.
type Header struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Notice is a full-page message for loading, load errors and unknown agents.
type Notice struct {
	Message  string `json:"message"`
	CanRetry bool   `json:"canRetry"`
}

// ConsentView is the consent gate.
type ConsentView struct {
	Text      string `json:"text"`
	Checked   bool   `json:"checked"`
	CanAccept bool   `json:"canAccept"`
}

// MessageView is one transcript entry.
type MessageView struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Text      string      `json:"text"`
	HTML      string      `json:"html"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressView is the progress indicator.
type ProgressView struct {
	Percent   float64 `json:"percent"`
	Collected int     `json:"collected"`
	Total     int     `json:"total"`
}

// SummaryItem is one collected value in the summary panel.
type SummaryItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// SummaryView is the session summary panel.
type SummaryView struct {
	Collected []SummaryItem `json:"collected"`
	Remaining []string      `json:"remaining"`
}

// ComposerView is the input area. Voice input is always offered and has
// no behavior behind it.
type ComposerView struct {
	Enabled      bool   `json:"enabled"`
	Placeholder  string `json:"placeholder"`
	FileEnabled  bool   `json:"fileEnabled"`
	Accept       string `json:"accept,omitempty"`
	VoiceOffered bool   `json:"voiceOffered"`
}

// OfflineView is the offline screen.
type OfflineView struct {
	Message    string `json:"message"`
	CanRetry   bool   `json:"canRetry"`
	CanUseForm bool   `json:"canUseForm"`
}

// Render builds the visitor surface for a snapshot.
func Render(s session.Snapshot) VisitorView {
	v := VisitorView{
		SessionID: s.SessionID,
		Version:   s.Version,
		State:     s.State,
	}
	if s.Agent != nil {
		v.Header = Header{Name: s.Agent.Name, Avatar: s.Agent.Avatar}
	}

	switch s.State {
	case session.StateLoading:
		v.Notice = &Notice{Message: loadingMessage}
		return v
	case session.StateConfigError:
		v.Notice = &Notice{Message: s.LoadError, CanRetry: true}
		return v
	case session.StateNotFound:
		v.Notice = &Notice{Message: notFoundMessage}
		return v
	case session.StateConsentGate:
		v.Consent = &ConsentView{
			Text:      s.Agent.ConsentText,
			Checked:   s.Consent.Checked,
			CanAccept: s.Consent.Checked,
		}
		return v
	case session.StateOffline:
		v.Offline = &OfflineView{Message: offlineMessage, CanRetry: true, CanUseForm: true}
		return v
	case session.StateFormFallback:
		form := RenderForm(s.Agent)
		if s.FallbackSubmitted {
			form.Submitted = true
			form.Ack = formAckMessage
		}
		v.Form = &form
		return v
	}

	// Active or Sending.
	sending := s.State == session.StateSending
	v.Transcript = make([]MessageView, 0, len(s.Messages))
	for _, m := range s.Messages {
		mv := MessageView{ID: m.ID, Role: m.Role, Text: m.Content, Timestamp: m.Timestamp}
		if m.Role == domain.RoleAssistant {
			mv.HTML = MarkdownHTML(m.Content)
		} else {
			mv.HTML = string(escape(m.Content))
		}
		v.Transcript = append(v.Transcript, mv)
	}
	v.Typing = sending

	total := len(s.Agent.Fields)
	if total > 0 {
		v.Progress = &ProgressView{
			Percent:   s.Progress,
			Collected: total - len(s.RemainingFields),
			Total:     total,
		}
	}

	summary := summarize(s)
	if len(summary.Collected) > 0 || len(summary.Remaining) > 0 {
		v.Summary = &summary
	}

	v.Banner = s.Banner
	v.SuggestedPrompts = s.SuggestedPrompts
	v.QuickReplies = s.QuickReplies

	composer := ComposerView{
		Enabled:      !sending,
		Placeholder:  "Type your message…",
		VoiceOffered: true,
	}
	if s.CurrentField != nil {
		composer.Placeholder = s.CurrentField.Label
		if s.CurrentField.Type == domain.FieldFile {
			composer.FileEnabled = true
			composer.Accept = "*/*"
		}
	}
	v.Composer = &composer
	return v
}

func summarize(s session.Snapshot) SummaryView {
	out := SummaryView{Collected: []SummaryItem{}, Remaining: s.RemainingFields}
	if out.Remaining == nil {
		out.Remaining = []string{}
	}
	for _, f := range s.Agent.Fields {
		val, ok := s.Collected[f.Key]
		if !ok || val.IsEmpty() {
			continue
		}
		out.Collected = append(out.Collected, SummaryItem{Key: f.Key, Label: f.Label, Value: val.String()})
	}
	return out
}
