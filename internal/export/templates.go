package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"formloom/api/internal/schema"
)

//go:embed templates/*.html
var templateFS embed.FS

var formTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/form.html")
	if err != nil {
		// Fallback to built-in template if file not found
		formTemplate = template.Must(template.New("form").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	formTemplate = template.Must(template.New("form").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for form template rendering
type TemplateData struct {
	Title     string
	Author    string
	UpdatedAt time.Time
	Theme     string
	Spacing   string
	Pages     []TemplatePage
}

// TemplatePage holds one page for the template
type TemplatePage struct {
	Title  string
	Fields []TemplateField
}

// TemplateField flattens a field variant into template-friendly attributes
type TemplateField struct {
	Kind         string
	Label        string
	Content      string
	Prefix       string
	DefaultValue string
	Required     bool
	Multiple     bool
	Options      []string
}

// BuildTemplateData flattens a form and its schema for rendering. Unknown
// fields are left out of the document.
func BuildTemplateData(form FormInfo, s *schema.Schema) TemplateData {
	data := TemplateData{
		Title:     form.Title,
		Author:    form.Author,
		UpdatedAt: form.UpdatedAt,
		Theme:     schema.DefaultTheme,
		Spacing:   schema.DefaultSpacing,
	}
	if s == nil {
		return data
	}
	data.Theme = s.Layout.Theme
	data.Spacing = s.Layout.Spacing

	for _, p := range s.Pages {
		tp := TemplatePage{Title: p.Title}
		for _, f := range p.Fields {
			switch v := f.(type) {
			case schema.RichTextField:
				tp.Fields = append(tp.Fields, TemplateField{Kind: string(schema.FieldTypeRichText), Content: v.Content})
			case schema.InputField:
				tp.Fields = append(tp.Fields, TemplateField{
					Kind:         string(v.Kind),
					Label:        v.Label,
					Prefix:       v.Prefix,
					DefaultValue: v.DefaultValue,
				})
			case schema.ChoiceField:
				tp.Fields = append(tp.Fields, TemplateField{
					Kind:     string(v.Kind),
					Label:    v.Label,
					Required: v.Required,
					Multiple: v.Multiple,
					Options:  v.Options,
				})
			}
		}
		data.Pages = append(data.Pages, tp)
	}
	return data
}

// RenderFormHTML renders the form template with provided data
func RenderFormHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := formTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .page { page-break-after: always; }
    .field { margin: 1rem 0; }
    .field .answer { border-bottom: 1px solid #999; min-height: 1.4em; }
    .required { color: #b00; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  {{range .Pages}}
  <div class="page">
    <h2>{{.Title}}</h2>
    {{range .Fields}}
    <div class="field field-{{.Kind | lower}}">
      {{if eq .Kind "rich_text"}}<p>{{.Content}}</p>
      {{else}}
      <label>{{.Label}}{{if .Required}} <span class="required">*</span>{{end}}</label>
      {{if .Options}}
      <ul>{{range .Options}}<li>{{.}}</li>{{end}}</ul>
      {{else}}
      <div class="answer">{{if .Prefix}}{{.Prefix}} {{end}}{{.DefaultValue}}</div>
      {{end}}
      {{end}}
    </div>
    {{end}}
  </div>
  {{end}}
</body>
</html>`
