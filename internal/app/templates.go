package app

import (
	"formloom/api/internal/schema"
	"formloom/api/internal/util"
)

// TemplateSchema returns the starting schema for a named template. Unknown
// names start blank; the initializer synthesizes the first page.
func TemplateSchema(name string) schema.Schema {
	switch name {
	case "contact":
		return contactTemplate()
	case "survey":
		return surveyTemplate()
	default:
		return schema.Schema{Layout: schema.DefaultLayout()}
	}
}

func contactTemplate() schema.Schema {
	return schema.Schema{
		Pages: []schema.Page{
			{
				ID:    util.NewID("page"),
				Title: "Contact us",
				Fields: []schema.Field{
					schema.RichTextField{ID: util.NewID("fld"), Content: "We usually reply within two business days."},
					schema.InputField{ID: util.NewID("fld"), Kind: schema.FieldTypeText, Label: "Full name"},
					schema.InputField{ID: util.NewID("fld"), Kind: schema.FieldTypeEmail, Label: "Email address", Validation: "email"},
					schema.InputField{ID: util.NewID("fld"), Kind: schema.FieldTypeText, Label: "Message"},
				},
			},
		},
		Layout: schema.DefaultLayout(),
	}
}

func surveyTemplate() schema.Schema {
	return schema.Schema{
		Pages: []schema.Page{
			{
				ID:    util.NewID("page"),
				Title: "About you",
				Fields: []schema.Field{
					schema.InputField{ID: util.NewID("fld"), Kind: schema.FieldTypeText, Label: "Name"},
					schema.InputField{ID: util.NewID("fld"), Kind: schema.FieldTypeDate, Label: "Date of birth"},
				},
			},
			{
				ID:    util.NewID("page"),
				Title: "Your feedback",
				Order: 1,
				Fields: []schema.Field{
					schema.ChoiceField{
						ID:      util.NewID("fld"),
						Kind:    schema.FieldTypeRadio,
						Label:   "How satisfied are you?",
						Options: []string{"Very satisfied", "Satisfied", "Neutral", "Unsatisfied"},
					},
					schema.ChoiceField{
						ID:       util.NewID("fld"),
						Kind:     schema.FieldTypeCheckbox,
						Label:    "What should we improve?",
						Options:  []string{"Speed", "Design", "Support", "Pricing"},
						Multiple: true,
					},
				},
			},
		},
		Layout: schema.DefaultLayout(),
	}
}
