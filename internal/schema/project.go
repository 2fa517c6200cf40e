package schema

import (
	"strings"

	"formloom/api/internal/crdt"
)

// Project reconstructs the canonical schema from a live document. It returns
// nil when the top-level form key has never been written; that is the only
// nil case. Malformed or partially missing structure degrades to defaults and
// empty lists, never to an error.
func Project(doc *crdt.Doc) *Schema {
	root, ok := doc.Get(RootKey)
	if !ok {
		return nil
	}
	return projectRoot(root)
}

func projectRoot(root any) *Schema {
	form := asMap(root)

	s := &Schema{
		Layout:        projectLayout(asMap(form["layout"])),
		ShuffleFields: asBool(form["isShuffleEnabled"]),
	}
	for _, entry := range asList(form["pages"]) {
		s.Pages = append(s.Pages, projectPage(asMap(entry)))
	}
	return s
}

func projectPage(entry map[string]any) Page {
	page := Page{
		ID:    asString(entry["id"]),
		Title: asString(entry["title"]),
		Order: int(asFloat(entry["order"])),
	}
	for _, raw := range asList(entry["fields"]) {
		page.Fields = append(page.Fields, projectField(asMap(raw)))
	}
	return page
}

// projectField reads only the attributes meaningful for the entry's type
// tag. A missing tag degrades to the unknown variant, keeping the id.
func projectField(entry map[string]any) Field {
	id := asString(entry["id"])

	switch tag := FieldType(asString(entry["type"])); tag {
	case FieldTypeRichText:
		return RichTextField{
			ID:      id,
			Content: asString(entry["content"]),
		}
	case FieldTypeText, FieldTypeEmail, FieldTypeNumber, FieldTypeDate:
		f := InputField{
			ID:           id,
			Kind:         tag,
			Label:        asString(entry["label"]),
			DefaultValue: asString(entry["defaultValue"]),
			Prefix:       asString(entry["prefix"]),
			Validation:   asString(entry["validation"]),
		}
		switch tag {
		case FieldTypeNumber:
			f.Min = asFloatPtr(entry["min"])
			f.Max = asFloatPtr(entry["max"])
		case FieldTypeDate:
			f.MinDate = asString(entry["minDate"])
			f.MaxDate = asString(entry["maxDate"])
		}
		return f
	case FieldTypeSelect, FieldTypeRadio, FieldTypeCheckbox:
		return ChoiceField{
			ID:            id,
			Kind:          tag,
			Label:         asString(entry["label"]),
			Options:       cleanOptions(asList(entry["options"])),
			Required:      asBool(entry["required"]),
			Multiple:      asBool(entry["multiple"]),
			DefaultValues: asStrings(asList(entry["defaultValues"])),
		}
	default:
		return UnknownField{ID: id}
	}
}

func projectLayout(entry map[string]any) Layout {
	layout := Layout{
		Theme:           asString(entry["theme"]),
		Spacing:         asString(entry["spacing"]),
		BackgroundImage: asString(entry["backgroundImage"]),
		CallToAction:    asString(entry["callToAction"]),
		PageMode:        asString(entry["pageMode"]),
	}
	if colors := asMap(entry["colors"]); len(colors) > 0 {
		layout.Colors = make(map[string]string, len(colors))
		for k, v := range colors {
			layout.Colors[k] = asString(v)
		}
	}
	// Missing layout attributes project as documented defaults, never as
	// empty strings.
	if layout.Theme == "" {
		layout.Theme = DefaultTheme
	}
	if layout.Spacing == "" {
		layout.Spacing = DefaultSpacing
	}
	if layout.PageMode == "" {
		layout.PageMode = DefaultPageMode
	}
	return layout
}

// cleanOptions trims choice options and drops empty ones.
func cleanOptions(raw []any) []string {
	var out []string
	for _, opt := range raw {
		trimmed := strings.TrimSpace(asString(opt))
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// Lenient accessors: the live structure is edited by remote clients and may
// be partially written at any moment, so every read tolerates a missing or
// mistyped value.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asFloatPtr(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

func asStrings(raw []any) []string {
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
