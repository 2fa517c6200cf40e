package schema

import "encoding/json"

// fieldEnvelope is the JSON shape shared by every field variant. Attributes
// irrelevant to a variant are omitted when marshaling and ignored when
// unmarshaling.
type fieldEnvelope struct {
	ID            string    `json:"id"`
	Type          FieldType `json:"type"`
	Content       string    `json:"content,omitempty"`
	Label         string    `json:"label,omitempty"`
	DefaultValue  string    `json:"defaultValue,omitempty"`
	Prefix        string    `json:"prefix,omitempty"`
	Validation    string    `json:"validation,omitempty"`
	Min           *float64  `json:"min,omitempty"`
	Max           *float64  `json:"max,omitempty"`
	MinDate       string    `json:"minDate,omitempty"`
	MaxDate       string    `json:"maxDate,omitempty"`
	Options       []string  `json:"options,omitempty"`
	Required      bool      `json:"required,omitempty"`
	Multiple      bool      `json:"multiple,omitempty"`
	DefaultValues []string  `json:"defaultValues,omitempty"`
}

func envelopeFor(f Field) fieldEnvelope {
	switch v := f.(type) {
	case RichTextField:
		return fieldEnvelope{ID: v.ID, Type: FieldTypeRichText, Content: v.Content}
	case InputField:
		return fieldEnvelope{
			ID:           v.ID,
			Type:         v.Kind,
			Label:        v.Label,
			DefaultValue: v.DefaultValue,
			Prefix:       v.Prefix,
			Validation:   v.Validation,
			Min:          v.Min,
			Max:          v.Max,
			MinDate:      v.MinDate,
			MaxDate:      v.MaxDate,
		}
	case ChoiceField:
		return fieldEnvelope{
			ID:            v.ID,
			Type:          v.Kind,
			Label:         v.Label,
			Options:       v.Options,
			Required:      v.Required,
			Multiple:      v.Multiple,
			DefaultValues: v.DefaultValues,
		}
	default:
		return fieldEnvelope{ID: f.FieldID(), Type: FieldTypeUnknown}
	}
}

func (e fieldEnvelope) field() Field {
	switch e.Type {
	case FieldTypeRichText:
		return RichTextField{ID: e.ID, Content: e.Content}
	case FieldTypeText, FieldTypeEmail, FieldTypeNumber, FieldTypeDate:
		return InputField{
			ID:           e.ID,
			Kind:         e.Type,
			Label:        e.Label,
			DefaultValue: e.DefaultValue,
			Prefix:       e.Prefix,
			Validation:   e.Validation,
			Min:          e.Min,
			Max:          e.Max,
			MinDate:      e.MinDate,
			MaxDate:      e.MaxDate,
		}
	case FieldTypeSelect, FieldTypeRadio, FieldTypeCheckbox:
		return ChoiceField{
			ID:            e.ID,
			Kind:          e.Type,
			Label:         e.Label,
			Options:       e.Options,
			Required:      e.Required,
			Multiple:      e.Multiple,
			DefaultValues: e.DefaultValues,
		}
	default:
		return UnknownField{ID: e.ID}
	}
}

type wirePage struct {
	ID     string          `json:"id"`
	Title  string          `json:"title"`
	Order  int             `json:"order"`
	Fields []fieldEnvelope `json:"fields"`
}

func (p Page) MarshalJSON() ([]byte, error) {
	wp := wirePage{ID: p.ID, Title: p.Title, Order: p.Order, Fields: make([]fieldEnvelope, 0, len(p.Fields))}
	for _, f := range p.Fields {
		wp.Fields = append(wp.Fields, envelopeFor(f))
	}
	return json.Marshal(wp)
}

func (p *Page) UnmarshalJSON(data []byte) error {
	var wp wirePage
	if err := json.Unmarshal(data, &wp); err != nil {
		return err
	}
	p.ID = wp.ID
	p.Title = wp.Title
	p.Order = wp.Order
	p.Fields = make([]Field, 0, len(wp.Fields))
	for _, e := range wp.Fields {
		p.Fields = append(p.Fields, e.field())
	}
	return nil
}
