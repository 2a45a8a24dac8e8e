package view

import (
	"bytes"
	"html/template"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/yuin/goldmark/util"
)

// FormView is the plain form offered when chat is unavailable.
type FormView struct {
	Title     string      `json:"title"`
	Inputs    []InputView `json:"inputs"`
	Submitted bool        `json:"submitted,omitempty"`
	Ack       string      `json:"ack,omitempty"`
}

// InputView is one native form control.
type InputView struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Element  string   `json:"element"`
	Type     string   `json:"type,omitempty"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// inputTypes maps field types to HTML input types.
var inputTypes = map[domain.FieldType]string{
	domain.FieldText:        "text",
	domain.FieldEmail:       "email",
	domain.FieldNumber:      "number",
	domain.FieldDate:        "date",
	domain.FieldPhone:       "tel",
	domain.FieldFile:        "file",
	domain.FieldMultiselect: "text",
}

// RenderForm returns one native control per field, in declared order:
// a select for select fields, a textarea for textarea fields and a typed
// input otherwise.
func RenderForm(cfg *domain.AgentConfig) FormView {
	if cfg == nil {
		return FormView{Inputs: []InputView{}}
	}
	form := FormView{Title: cfg.Name, Inputs: make([]InputView, 0, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		in := InputView{Name: f.Key, Label: f.Label, Required: f.Required}
		switch f.Type {
		case domain.FieldSelect:
			in.Element = "select"
			in.Options = append([]string(nil), f.Options...)
		case domain.FieldTextarea:
			in.Element = "textarea"
		default:
			in.Element = "input"
			in.Type = inputTypes[f.Type]
			if in.Type == "" {
				in.Type = "text"
			}
		}
		form.Inputs = append(form.Inputs, in)
	}
	return form
}

var formTemplate = template.Must(template.New("form").Parse(`<form method="post" class="chatform-fallback">
{{- if .Title}}<h2>{{.Title}}</h2>{{end}}
{{- range .Inputs}}
<label>{{.Label}}
{{- if eq .Element "select"}}<select name="{{.Name}}"{{if .Required}} required{{end}}><option value=""></option>{{range .Options}}<option>{{.}}</option>{{end}}</select>
{{- else if eq .Element "textarea"}}<textarea name="{{.Name}}"{{if .Required}} required{{end}}></textarea>
{{- else}}<input type="{{.Type}}" name="{{.Name}}"{{if .Required}} required{{end}}>
{{- end}}</label>
{{- end}}
<button type="submit">Submit</button>
</form>`))

// HTML renders the form as native HTML controls.
func (f FormView) HTML() (string, error) {
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, f); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func escape(s string) []byte {
	return util.EscapeHTML([]byte(s))
}
