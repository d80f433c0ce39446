package forms

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the closed set of question kinds a template field may declare.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldDate     FieldType = "date"
	FieldNumber   FieldType = "number"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
)

// FieldTypes lists every supported kind in authoring order.
var FieldTypes = []FieldType{
	FieldText, FieldTextarea, FieldSelect, FieldRadio, FieldCheckbox,
	FieldDate, FieldNumber, FieldEmail, FieldPhone,
}

// Valid reports whether t is one of the declared kinds.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldTextarea, FieldSelect, FieldRadio, FieldCheckbox,
		FieldDate, FieldNumber, FieldEmail, FieldPhone:
		return true
	}
	return false
}

// HasOptions reports whether fields of this kind carry an option list.
func (t FieldType) HasOptions() bool {
	return t == FieldSelect || t == FieldRadio || t == FieldCheckbox
}

// DateLayout is the calendar-date representation used for date answers and
// instance completion dates.
const DateLayout = "2006-01-02"

// FieldValidation holds advisory hints for the input control. They are never
// enforced on submission.
type FieldValidation struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern *string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// Field is one typed question inside a section.
type Field struct {
	ID          string           `json:"id" yaml:"id"`
	Type        FieldType        `json:"type" yaml:"type"`
	Label       string           `json:"label" yaml:"label"`
	Required    bool             `json:"required" yaml:"required"`
	Options     []string         `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder *string          `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Validation  *FieldValidation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Section is an ordered group of fields.
type Section struct {
	Title  string  `json:"title" yaml:"title"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Template maps to the form_template table.
type Template struct {
	ID          uuid.UUID `json:"id" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	Sections    []Section `json:"sections" yaml:"sections"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// NewTemplate builds an unsaved template. A nil active means active.
func NewTemplate(name string, description *string, sections []Section, active *bool) *Template {
	if sections == nil {
		sections = []Section{}
	}
	return &Template{
		Name:        name,
		Description: description,
		Sections:    sections,
		Active:      active == nil || *active,
	}
}

// Fields returns every field of the template in section order.
func (t *Template) Fields() []Field {
	var out []Field
	for _, s := range t.Sections {
		out = append(out, s.Fields...)
	}
	return out
}

// FieldByID finds a field anywhere in the template.
func (t *Template) FieldByID(id string) (Field, bool) {
	for _, s := range t.Sections {
		for _, f := range s.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return Field{}, false
}

// FieldCount is the total number of fields across all sections.
func (t *Template) FieldCount() int {
	n := 0
	for _, s := range t.Sections {
		n += len(s.Fields)
	}
	return n
}

// Clone returns a deep copy so callers can mutate sections without touching
// the original.
func (t *Template) Clone() *Template {
	cp := *t
	if t.Description != nil {
		d := *t.Description
		cp.Description = &d
	}
	cp.Sections = cloneSections(t.Sections)
	return &cp
}

func cloneSections(in []Section) []Section {
	if in == nil {
		return nil
	}
	out := make([]Section, len(in))
	for i, s := range in {
		out[i].Title = s.Title
		out[i].Fields = make([]Field, len(s.Fields))
		for j, f := range s.Fields {
			out[i].Fields[j] = cloneField(f)
		}
	}
	return out
}

func cloneField(f Field) Field {
	cp := f
	if f.Options != nil {
		cp.Options = append([]string(nil), f.Options...)
	}
	if f.Placeholder != nil {
		p := *f.Placeholder
		cp.Placeholder = &p
	}
	if f.Validation != nil {
		v := *f.Validation
		cp.Validation = &v
	}
	return cp
}

// TemplatePatch carries the attributes of a partial template update. Nil
// members are left untouched.
type TemplatePatch struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Sections    *[]Section `json:"sections,omitempty"`
	Active      *bool      `json:"active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TemplatePatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Sections == nil && p.Active == nil
}

// Instance maps to the form_instance table: one patient's answers to a template.
type Instance struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	TemplateID    uuid.UUID `json:"template_id"`
	Values        Values    `json:"values"`
	CompletedDate string    `json:"completed_date"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InstanceWithTemplate is an instance joined with the template it references.
// Template is nil when the referenced row no longer exists.
type InstanceWithTemplate struct {
	Instance
	Template *Template `json:"template"`
}
