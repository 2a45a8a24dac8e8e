package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- FieldValue tests ---

func TestFieldValueIsEmpty(t *testing.T) {
	tests := []struct {
		name  string
		value FieldValue
		want  bool
	}{
		{"null", NullValue(), true},
		{"empty text", TextValue(""), true},
		{"text", TextValue("Alice"), false},
		{"zero number", NumberValue(0), false},
		{"file", FileValue(FileRef{Name: "cv.pdf"}), false},
		{"file kind without ref", FieldValue{Kind: KindFile}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.IsEmpty())
		})
	}
}

func TestFieldValueMarshal(t *testing.T) {
	fields := map[string]FieldValue{
		"name":   TextValue("Alice"),
		"age":    NumberValue(42),
		"resume": FileValue(FileRef{Name: "cv.pdf", URL: "https://cdn.example.com/cv.pdf"}),
		"phone":  NullValue(),
	}

	data, err := json.Marshal(fields)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Alice", raw["name"])
	assert.Equal(t, float64(42), raw["age"])
	assert.Equal(t, "https://cdn.example.com/cv.pdf", raw["resume"])
	assert.Nil(t, raw["phone"])
}

func TestFieldValueUnmarshal(t *testing.T) {
	var fields map[string]FieldValue
	err := json.Unmarshal([]byte(`{"a":"x","b":3.5,"c":null,"d":["red","blue"],"e":true}`), &fields)
	require.NoError(t, err)

	assert.Equal(t, TextValue("x"), fields["a"])
	assert.Equal(t, NumberValue(3.5), fields["b"])
	assert.True(t, fields["c"].IsEmpty())
	assert.Equal(t, "red, blue", fields["d"].Text)
	assert.Equal(t, "true", fields["e"].Text)
}

func TestFieldValueUnmarshal_Object(t *testing.T) {
	var v FieldValue
	err := json.Unmarshal([]byte(`{"nested":1}`), &v)
	assert.Error(t, err)
}

func TestFieldValueString(t *testing.T) {
	assert.Equal(t, "3", NumberValue(3).String())
	assert.Equal(t, "2.25", NumberValue(2.25).String())
	assert.Equal(t, "cv.pdf", FileValue(FileRef{Name: "cv.pdf"}).String())
	assert.Equal(t, "", NullValue().String())
}

func TestCloneFields(t *testing.T) {
	orig := map[string]FieldValue{"a": TextValue("1")}
	cp := CloneFields(orig)
	cp["b"] = TextValue("2")

	assert.Len(t, orig, 1)
	assert.Len(t, cp, 2)
}

// --- AgentConfig tests ---

func TestAgentConfigField(t *testing.T) {
	cfg := &AgentConfig{
		ID: "a1",
		Fields: []FieldSpec{
			{Key: "name", Label: "Name", Type: FieldText},
			{Key: "plan", Label: "Plan", Type: FieldSelect, Options: []string{"basic", "pro"}},
		},
	}

	f, ok := cfg.Field("plan")
	require.True(t, ok)
	assert.Equal(t, FieldSelect, f.Type)

	_, ok = cfg.Field("missing")
	assert.False(t, ok)
}

func TestAgentConfigClone(t *testing.T) {
	cfg := &AgentConfig{
		ID:     "a1",
		Fields: []FieldSpec{{Key: "plan", Type: FieldSelect, Options: []string{"basic"}}},
	}

	cp := cfg.Clone()
	cp.Fields[0].Options[0] = "changed"
	cp.Fields = append(cp.Fields, FieldSpec{Key: "extra"})

	assert.Equal(t, "basic", cfg.Fields[0].Options[0])
	assert.Len(t, cfg.Fields, 1)

	var nilCfg *AgentConfig
	assert.Nil(t, nilCfg.Clone())
}

func TestFieldTypeHasOptions(t *testing.T) {
	for _, ft := range FieldTypes {
		want := ft == FieldSelect || ft == FieldMultiselect
		assert.Equal(t, want, ft.HasOptions(), string(ft))
	}
}

func TestAgentConfigJSON_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(AgentConfig{ID: "a1", Name: "Bot"})
	require.NoError(t, err)

	raw := string(data)
	assert.NotContains(t, raw, "avatar")
	assert.NotContains(t, raw, "consentText")
	assert.NotContains(t, raw, "consentRequired")
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12", 12, true},
		{" 0.5 ", 0.5, true},
		{"-3e2", -300, true},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"-Infinity", 0, false},
		{"many", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
