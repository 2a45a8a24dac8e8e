package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/soyeahso/chatform/internal/domain"
)

// FieldIssue is a validation failure for one form input.
type FieldIssue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// FormError is returned when a fallback form submission does not validate.
type FormError struct {
	Issues []FieldIssue
}

func (e *FormError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("form: %s: %s", e.Issues[0].Key, e.Issues[0].Message)
	}
	return fmt.Sprintf("form: %d invalid fields", len(e.Issues))
}

// ValidateForm checks fallback form values against the field list the way
// native form validation would and returns the typed values. Unknown keys
// are ignored.
func ValidateForm(fields []domain.FieldSpec, values map[string]string) (map[string]domain.FieldValue, error) {
	out := make(map[string]domain.FieldValue, len(fields))
	var issues []FieldIssue

	for _, f := range fields {
		raw := strings.TrimSpace(values[f.Key])
		if raw == "" {
			if f.Required {
				issues = append(issues, FieldIssue{Key: f.Key, Message: "required"})
			}
			continue
		}

		switch f.Type {
		case domain.FieldNumber:
			n, ok := domain.ParseNumber(raw)
			if !ok {
				issues = append(issues, FieldIssue{Key: f.Key, Message: "must be a number"})
				continue
			}
			out[f.Key] = domain.NumberValue(n)
			continue
		case domain.FieldEmail:
			if at := strings.Index(raw, "@"); at <= 0 || at == len(raw)-1 {
				issues = append(issues, FieldIssue{Key: f.Key, Message: "must be an email address"})
				continue
			}
		case domain.FieldSelect:
			if !slices.Contains(f.Options, raw) {
				issues = append(issues, FieldIssue{Key: f.Key, Message: "not one of the options"})
				continue
			}
		case domain.FieldMultiselect:
			bad := false
			for _, part := range strings.Split(raw, ",") {
				if !slices.Contains(f.Options, strings.TrimSpace(part)) {
					bad = true
				}
			}
			if bad {
				issues = append(issues, FieldIssue{Key: f.Key, Message: "not one of the options"})
				continue
			}
		}
		out[f.Key] = domain.TextValue(raw)
	}

	if len(issues) > 0 {
		return nil, &FormError{Issues: issues}
	}
	return out, nil
}
