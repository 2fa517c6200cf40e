package schema

import (
	"strings"

	"formloom/api/internal/crdt"
	"formloom/api/internal/util"
)

// Initialize writes the canonical schema into the live document as the
// replicated form structure, replacing whatever was there. A schema with
// zero pages gets exactly one synthesized empty page so that an initialized
// document always contains at least one page.
func Initialize(doc *crdt.Doc, s Schema) {
	doc.Put(RootKey, buildRoot(s))
}

func buildRoot(s Schema) map[string]any {
	pages := make([]any, 0, len(s.Pages))
	for _, page := range s.Pages {
		pages = append(pages, buildPage(page))
	}
	if len(pages) == 0 {
		pages = append(pages, buildPage(Page{
			ID:    util.NewID("page"),
			Title: DefaultPageTitle,
		}))
	}

	return map[string]any{
		"pages":            pages,
		"layout":           buildLayout(s.Layout),
		"isShuffleEnabled": s.ShuffleFields,
	}
}

func buildPage(page Page) map[string]any {
	fields := make([]any, 0, len(page.Fields))
	for _, field := range page.Fields {
		if entry := buildField(field); entry != nil {
			fields = append(fields, entry)
		}
	}
	return map[string]any{
		"id":     page.ID,
		"title":  page.Title,
		"order":  page.Order,
		"fields": fields,
	}
}

// buildField serializes exactly the attributes relevant to the field's type
// tag; nothing else is ever written (a text field never gets an options key).
func buildField(field Field) map[string]any {
	switch f := field.(type) {
	case RichTextField:
		return map[string]any{
			"id":      f.ID,
			"type":    string(FieldTypeRichText),
			"content": f.Content,
		}
	case InputField:
		entry := map[string]any{
			"id":           f.ID,
			"type":         string(f.Kind),
			"label":        f.Label,
			"defaultValue": f.DefaultValue,
			"prefix":       f.Prefix,
			"validation":   f.Validation,
		}
		switch f.Kind {
		case FieldTypeNumber:
			if f.Min != nil {
				entry["min"] = *f.Min
			}
			if f.Max != nil {
				entry["max"] = *f.Max
			}
		case FieldTypeDate:
			if f.MinDate != "" {
				entry["minDate"] = f.MinDate
			}
			if f.MaxDate != "" {
				entry["maxDate"] = f.MaxDate
			}
		}
		return entry
	case ChoiceField:
		options := make([]any, 0, len(f.Options))
		for _, opt := range f.Options {
			trimmed := strings.TrimSpace(opt)
			if trimmed == "" {
				continue
			}
			options = append(options, trimmed)
		}
		defaults := make([]any, 0, len(f.DefaultValues))
		for _, v := range f.DefaultValues {
			defaults = append(defaults, v)
		}
		return map[string]any{
			"id":            f.ID,
			"type":          string(f.Kind),
			"label":         f.Label,
			"options":       options,
			"required":      f.Required,
			"multiple":      f.Multiple,
			"defaultValues": defaults,
		}
	default:
		// Unknown variants carry no attributes worth persisting.
		return nil
	}
}

func buildLayout(layout Layout) map[string]any {
	if layout.Theme == "" {
		layout.Theme = DefaultTheme
	}
	if layout.Spacing == "" {
		layout.Spacing = DefaultSpacing
	}
	if layout.PageMode == "" {
		layout.PageMode = DefaultPageMode
	}
	entry := map[string]any{
		"theme":    layout.Theme,
		"spacing":  layout.Spacing,
		"pageMode": layout.PageMode,
	}
	if layout.BackgroundImage != "" {
		entry["backgroundImage"] = layout.BackgroundImage
	}
	if layout.CallToAction != "" {
		entry["callToAction"] = layout.CallToAction
	}
	if len(layout.Colors) > 0 {
		colors := make(map[string]any, len(layout.Colors))
		for k, v := range layout.Colors {
			colors[k] = v
		}
		entry["colors"] = colors
	}
	return entry
}
