package forms

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// ValuesSchema describes the answer map of t as a JSON Schema object, so
// external clients can validate a payload before posting it. Advisory hints
// are carried as min, max and pattern. Each property records its section and
// field type under x-section and x-field-type.
func ValuesSchema(t *Template) *openapi3.Schema {
	root := openapi3.NewObjectSchema()
	root.Title = t.Name
	if t.Description != nil {
		root.Description = *t.Description
	}
	root.Required = []string{}
	for _, s := range t.Sections {
		for _, f := range s.Fields {
			prop := fieldSchema(f)
			prop.Title = f.Label
			prop.Extensions = map[string]any{
				"x-section":    s.Title,
				"x-field-type": string(f.Type),
			}
			root.WithProperty(f.ID, prop)
			if f.Required {
				root.Required = append(root.Required, f.ID)
			}
		}
	}
	return root
}

func fieldSchema(f Field) *openapi3.Schema {
	var s *openapi3.Schema
	switch f.Type {
	case FieldNumber:
		s = openapi3.NewFloat64Schema()
		if v := f.Validation; v != nil {
			if v.Min != nil {
				s.WithMin(*v.Min)
			}
			if v.Max != nil {
				s.WithMax(*v.Max)
			}
		}
		return s
	case FieldDate:
		return openapi3.NewStringSchema().WithFormat("date")
	case FieldSelect, FieldRadio:
		return openapi3.NewStringSchema().WithEnum(enumOf(f.Options)...)
	case FieldCheckbox:
		s = openapi3.NewArraySchema().
			WithItems(openapi3.NewStringSchema().WithEnum(enumOf(f.Options)...)).
			WithUniqueItems(true)
		if f.Required {
			s.WithMinItems(1)
		}
		return s
	case FieldEmail:
		s = openapi3.NewStringSchema().WithFormat("email")
	default:
		s = openapi3.NewStringSchema()
	}
	if f.Required {
		s.WithMinLength(1)
	}
	if v := f.Validation; v != nil && v.Pattern != nil {
		s.WithPattern(*v.Pattern)
	}
	return s
}

func enumOf(options []string) []any {
	out := make([]any, len(options))
	for i, o := range options {
		out[i] = o
	}
	return out
}
