package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/chatform/internal/domain"
)

// BuildSystemPrompt tells the model which fields the agent collects, what is
// already known, and the exact JSON shape to answer with.
func BuildSystemPrompt(cfg *domain.AgentConfig, collected map[string]domain.FieldValue, now time.Time) string {
	var b strings.Builder

	// Identity
	name := cfg.Name
	if name == "" {
		name = "a friendly assistant"
	}
	fmt.Fprintf(&b, "You are %s, collecting information from a website visitor through conversation.\n", name)
	if cfg.ProductHint != "" {
		fmt.Fprintf(&b, "The visitor is interested in %s.\n", cfg.ProductHint)
	}
	fmt.Fprintf(&b, "Current date: %s\n\n", now.Format("2006-01-02"))

	// Fields
	b.WriteString("## Fields to collect (in order)\n\n")
	for _, f := range cfg.Fields {
		fmt.Fprintf(&b, "- %s: %s (type: %s", f.Key, f.Label, f.Type)
		if f.Required {
			b.WriteString(", required")
		}
		if len(f.Options) > 0 {
			fmt.Fprintf(&b, ", options: %s", strings.Join(f.Options, " | "))
		}
		b.WriteString(")")
		if v, ok := collected[f.Key]; ok && !v.IsEmpty() {
			fmt.Fprintf(&b, " = %q", v.String())
		}
		b.WriteString("\n")
	}

	// Guidelines
	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Ask for one missing field at a time, in the order listed.\n")
	b.WriteString("- Extract values only from what the visitor actually said.\n")
	b.WriteString("- For select fields, use one of the listed options verbatim.\n")
	b.WriteString("- When every required field is known, thank the visitor and summarize.\n")

	// Output format
	b.WriteString("\nReply with a single JSON object and nothing else:\n\n")
	b.WriteString("```json\n{\"assistantMessage\": \"your reply to the visitor\", \"updatedFields\": {\"field_key\": \"value\"}}\n```\n\n")
	b.WriteString("updatedFields holds only values learned from the latest message; use {} when there are none.\n")

	return b.String()
}
