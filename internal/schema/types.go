// Package schema defines the canonical form schema and the bidirectional
// projection between it and the live replicated document. The replicated
// structure lives under the top-level "form" key as
// {pages, layout, isShuffleEnabled}; the projector reconstructs typed pages
// and fields from it and the initializer writes it from scratch.
package schema

// FieldType tags one field variant. Projection and initialization dispatch
// exhaustively on it.
type FieldType string

const (
	FieldTypeRichText FieldType = "rich_text"
	FieldTypeText     FieldType = "text"
	FieldTypeEmail    FieldType = "email"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeSelect   FieldType = "select"
	FieldTypeRadio    FieldType = "radio"
	FieldTypeCheckbox FieldType = "checkbox"
	FieldTypeUnknown  FieldType = "unknown"
)

// Field is one entry on a page. Each concrete variant carries exactly the
// attributes meaningful for its type tag.
type Field interface {
	FieldID() string
	Type() FieldType
}

// RichTextField is display-only content; it carries no label or answer
// attributes.
type RichTextField struct {
	ID      string
	Content string
}

func (f RichTextField) FieldID() string { return f.ID }
func (f RichTextField) Type() FieldType { return FieldTypeRichText }

// InputField is a fillable non-choice field (text, email, number, date).
// Min/Max apply to number fields, MinDate/MaxDate to date fields; the
// projector and initializer only touch the pair matching the type tag.
type InputField struct {
	ID           string
	Kind         FieldType
	Label        string
	DefaultValue string
	Prefix       string
	Validation   string
	Min          *float64
	Max          *float64
	MinDate      string
	MaxDate      string
}

func (f InputField) FieldID() string { return f.ID }
func (f InputField) Type() FieldType { return f.Kind }

// ChoiceField is a select, radio or checkbox field.
type ChoiceField struct {
	ID            string
	Kind          FieldType
	Label         string
	Options       []string
	Required      bool
	Multiple      bool
	DefaultValues []string
}

func (f ChoiceField) FieldID() string { return f.ID }
func (f ChoiceField) Type() FieldType { return f.Kind }

// UnknownField preserves the identity of an entry whose type tag is missing
// or unrecognized. The initializer never writes these back.
type UnknownField struct {
	ID string
}

func (f UnknownField) FieldID() string { return f.ID }
func (f UnknownField) Type() FieldType { return FieldTypeUnknown }

// Page is an ordered group of fields.
type Page struct {
	ID     string
	Title  string
	Order  int
	Fields []Field
}

// Layout holds the form-wide presentation settings.
type Layout struct {
	Theme           string            `json:"theme"`
	Spacing         string            `json:"spacing"`
	Colors          map[string]string `json:"colors,omitempty"`
	BackgroundImage string            `json:"backgroundImage,omitempty"`
	CallToAction    string            `json:"callToAction,omitempty"`
	PageMode        string            `json:"pageMode"`
}

// Schema is the canonical projection of one form document.
type Schema struct {
	Pages         []Page `json:"pages"`
	Layout        Layout `json:"layout"`
	ShuffleFields bool   `json:"isShuffleEnabled"`
}

// Defaults filled in for layout attributes and synthesized pages.
const (
	DefaultTheme     = "default"
	DefaultSpacing   = "normal"
	DefaultPageMode  = "paged"
	DefaultPageTitle = "Page 1"
)

// DefaultLayout returns a layout with every attribute at its documented
// default.
func DefaultLayout() Layout {
	return Layout{
		Theme:    DefaultTheme,
		Spacing:  DefaultSpacing,
		PageMode: DefaultPageMode,
	}
}

// RootKey is the top-level replicated-document key holding the form
// structure.
const RootKey = "form"
