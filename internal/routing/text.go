package routing

import (
	"fmt"
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/session"
	"github.com/soyeahso/chatform/internal/view"
)

// Hints appended for text visitors, who cannot click buttons.
const (
	retryHint   = "Send !retry to try again."
	consentHint = "Send !consent to accept and start."
	offlineHint = "Send !retry to try again, or !form to fill in a simple form instead."
	resendHint  = "Send !retry to resend your last message."
	formHint    = "Send !form followed by field=value pairs separated by ; (for example: !form name=Ada; email=ada@example.com)."
	helpText    = "Commands: !consent accepts the privacy notice, !retry tries again, !form uses the plain form when the assistant is offline, !reset starts over."
)

// Describe renders a visitor view as lines of plain text for line-oriented
// channels and terminals. Only what a text visitor needs next is included:
// the latest assistant reply in chat, or the notice of a non-chat state.
func Describe(v view.VisitorView) []string {
	switch v.State {
	case session.StateLoading:
		return nil
	case session.StateConfigError:
		return nonEmpty(noticeText(v), retryHint)
	case session.StateNotFound:
		return nonEmpty(noticeText(v))
	case session.StateConsentGate:
		text := ""
		if v.Consent != nil {
			text = view.PlainText(v.Consent.Text)
		}
		return nonEmpty(text, consentHint)
	case session.StateOffline:
		msg := ""
		if v.Offline != nil {
			msg = v.Offline.Message
		}
		return nonEmpty(msg, offlineHint)
	case session.StateFormFallback:
		return describeForm(v.Form)
	}

	var lines []string
	if v.Banner != "" {
		lines = append(lines, v.Banner, resendHint)
	}
	switch n := len(v.Transcript); {
	case n == 0:
		lines = append(lines, greeting(v))
	case v.Transcript[n-1].Role == domain.RoleAssistant && v.Banner == "":
		lines = append(lines, strings.Split(view.PlainText(v.Transcript[n-1].Text), "\n")...)
	}
	if len(v.QuickReplies) > 0 {
		lines = append(lines, "Options: "+strings.Join(v.QuickReplies, ", "))
	}
	return lines
}

func greeting(v view.VisitorView) string {
	hello := "Hi!"
	if v.Header.Name != "" {
		hello = fmt.Sprintf("Hi! I'm %s.", v.Header.Name)
	}
	if v.Composer != nil && v.Composer.Placeholder != "" && v.Progress != nil && v.Progress.Collected < v.Progress.Total {
		return fmt.Sprintf("%s To start, what's your %s?", hello, strings.ToLower(v.Composer.Placeholder))
	}
	return hello
}

func describeForm(form *view.FormView) []string {
	if form == nil {
		return nil
	}
	if form.Submitted {
		return []string{form.Ack}
	}
	lines := []string{formHint, "Fields:"}
	for _, in := range form.Inputs {
		line := fmt.Sprintf("  %s: %s", in.Name, in.Label)
		if in.Required {
			line += " (required)"
		}
		if len(in.Options) > 0 {
			line += " [" + strings.Join(in.Options, ", ") + "]"
		}
		lines = append(lines, line)
	}
	return lines
}

func noticeText(v view.VisitorView) string {
	if v.Notice == nil {
		return ""
	}
	return v.Notice.Message
}

func nonEmpty(lines ...string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

// ParseFormValues parses "key=value; key=value" into form values. Pairs
// without "=" are ignored.
func ParseFormValues(s string) map[string]string {
	values := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			values[k] = strings.TrimSpace(v)
		}
	}
	return values
}
