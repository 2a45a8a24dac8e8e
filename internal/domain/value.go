package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the variants of a FieldValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindText
	KindNumber
	KindFile
)

// FileRef points at an uploaded file.
type FileRef struct {
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// FieldValue is a collected value: text, number, file reference or null.
// On the wire it is a JSON string, number or null; file references travel
// as their URL (or name when no URL is known).
type FieldValue struct {
	Kind   ValueKind
	Text   string
	Number float64
	File   *FileRef
}

// TextValue returns a text value.
func TextValue(s string) FieldValue { return FieldValue{Kind: KindText, Text: s} }

// NumberValue returns a numeric value.
func NumberValue(n float64) FieldValue { return FieldValue{Kind: KindNumber, Number: n} }

// ParseNumber parses s as a finite number. NaN and infinities are
// rejected since they have no JSON encoding.
func ParseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// FileValue returns a file reference value.
func FileValue(f FileRef) FieldValue { return FieldValue{Kind: KindFile, File: &f} }

// NullValue returns the explicit null value.
func NullValue() FieldValue { return FieldValue{} }

// IsEmpty reports whether the value counts as not collected: null or an
// empty string.
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindText:
		return v.Text == ""
	case KindFile:
		return v.File == nil
	default:
		return false
	}
}

// String renders the value for display.
func (v FieldValue) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	case KindFile:
		if v.File == nil {
			return ""
		}
		if v.File.URL != "" {
			return v.File.URL
		}
		return v.File.Name
	default:
		return ""
	}
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		return json.Marshal(v.Number)
	default:
		return json.Marshal(v.String())
	}
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = TextValue(s)
	case '[':
		// Multiselect answers sometimes arrive as arrays.
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*v = TextValue(strings.Join(items, ", "))
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = TextValue(strconv.FormatBool(b))
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("field value: unsupported JSON %s", data)
		}
		*v = NumberValue(n)
	}
	return nil
}

// CloneFields copies a collected-fields map.
func CloneFields(m map[string]FieldValue) map[string]FieldValue {
	out := make(map[string]FieldValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
