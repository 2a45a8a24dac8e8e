package domain

// FieldType is the input type of a collected field.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldEmail       FieldType = "email"
	FieldNumber      FieldType = "number"
	FieldSelect      FieldType = "select"
	FieldMultiselect FieldType = "multiselect"
	FieldDate        FieldType = "date"
	FieldPhone       FieldType = "phone"
	FieldTextarea    FieldType = "textarea"
	FieldFile        FieldType = "file"
)

// FieldTypes lists every supported field type.
var FieldTypes = []FieldType{
	FieldText, FieldEmail, FieldNumber, FieldSelect, FieldMultiselect,
	FieldDate, FieldPhone, FieldTextarea, FieldFile,
}

// HasOptions reports whether the type requires an options list.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldMultiselect
}

// FieldSpec describes one unit of structured data an agent collects.
type FieldSpec struct {
	Key      string    `json:"key" yaml:"key"`
	Label    string    `json:"label" yaml:"label"`
	Type     FieldType `json:"type" yaml:"type"`
	Options  []string  `json:"options,omitempty" yaml:"options,omitempty"`
	Required bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// AgentConfig is the read-only definition of a conversational form.
// It is fetched once per visitor session and never mutated afterwards.
type AgentConfig struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Avatar          string      `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	ProductHint     string      `json:"productHint,omitempty" yaml:"productHint,omitempty"`
	Fields          []FieldSpec `json:"fields" yaml:"fields"`
	ConsentRequired bool        `json:"consentRequired,omitempty" yaml:"consentRequired,omitempty"`
	ConsentText     string      `json:"consentText,omitempty" yaml:"consentText,omitempty"`
}

// Field returns the spec for key, if declared.
func (a *AgentConfig) Field(key string) (FieldSpec, bool) {
	for _, f := range a.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Clone returns a deep copy so callers can hand configs across sessions safely.
func (a *AgentConfig) Clone() *AgentConfig {
	if a == nil {
		return nil
	}
	c := *a
	c.Fields = make([]FieldSpec, len(a.Fields))
	for i, f := range a.Fields {
		f.Options = append([]string(nil), f.Options...)
		c.Fields[i] = f
	}
	return &c
}
