package exchange

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/tidwall/jsonc"
)

// fencedJSON matches a ```json (or bare ```) fenced block.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")

type modelReply struct {
	AssistantMessage string                     `json:"assistantMessage"`
	UpdatedFields    map[string]json.RawMessage `json:"updatedFields"`
}

// ParseReply extracts the assistant message and field updates from a model
// completion. Fenced or loose JSON is accepted, comments and trailing commas
// included. When no JSON object can be found the whole text is the reply
// and no fields are reported. Undeclared keys and values that do not fit
// their field type are dropped.
func ParseReply(content string, cfg *domain.AgentConfig) (string, map[string]domain.FieldValue) {
	content = strings.TrimSpace(content)

	raw := ""
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		raw = m[1]
	} else if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		raw = content[start : end+1]
	}
	if raw == "" {
		return content, nil
	}

	var reply modelReply
	if err := json.Unmarshal(jsonc.ToJSON([]byte(raw)), &reply); err != nil {
		return content, nil
	}
	if reply.AssistantMessage == "" && reply.UpdatedFields == nil {
		return content, nil
	}

	if reply.UpdatedFields == nil {
		return strings.TrimSpace(reply.AssistantMessage), nil
	}

	updated := make(map[string]domain.FieldValue, len(reply.UpdatedFields))
	for key, raw := range reply.UpdatedFields {
		spec, ok := cfg.Field(key)
		if !ok {
			continue
		}
		var v domain.FieldValue
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if v, ok := coerce(spec, v); ok {
			updated[key] = v
		}
	}
	return strings.TrimSpace(reply.AssistantMessage), updated
}

// coerce normalizes a value to its field type. It reports false when the
// value cannot belong to the field.
func coerce(spec domain.FieldSpec, v domain.FieldValue) (domain.FieldValue, bool) {
	if v.Kind == domain.KindNull {
		return v, true
	}

	switch spec.Type {
	case domain.FieldNumber:
		if v.Kind == domain.KindNumber {
			return v, true
		}
		n, ok := domain.ParseNumber(strings.ReplaceAll(v.String(), ",", ""))
		if !ok {
			return v, false
		}
		return domain.NumberValue(n), true

	case domain.FieldSelect:
		for _, opt := range spec.Options {
			if strings.EqualFold(opt, strings.TrimSpace(v.String())) {
				return domain.TextValue(opt), true
			}
		}
		return v, false

	case domain.FieldEmail:
		s := strings.TrimSpace(v.String())
		return domain.TextValue(s), strings.Contains(s, "@")

	default:
		if v.Kind == domain.KindNumber {
			return domain.TextValue(v.String()), true
		}
		return v, true
	}
}
