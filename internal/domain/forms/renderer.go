package forms

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ControlKind is the input control a field is presented with.
type ControlKind string

const (
	ControlInput    ControlKind = "input"
	ControlTextArea ControlKind = "textarea"
	ControlSelect   ControlKind = "select"
	ControlRadio    ControlKind = "radio"
	ControlCheckbox ControlKind = "checkbox"
)

// Control is a field paired with the control it renders as and its bound value.
type Control struct {
	Field Field       `json:"field"`
	Kind  ControlKind `json:"kind"`
	// InputType is the HTML input type for ControlInput.
	InputType string `json:"input_type,omitempty"`
	Value     Value  `json:"value"`
}

// SectionView is a section as rendered, with each field's control.
type SectionView struct {
	Title    string    `json:"title"`
	Controls []Control `json:"controls"`
}

// InstanceWriter persists a submitted form.
type InstanceWriter interface {
	CreateInstance(ctx context.Context, patientID, templateID uuid.UUID, values Values, completedDate string) (uuid.UUID, error)
	UpdateInstance(ctx context.Context, id uuid.UUID, values Values) error
}

func controlFor(f Field) (Control, error) {
	c := Control{Field: f}
	switch f.Type {
	case FieldText:
		c.Kind, c.InputType = ControlInput, "text"
	case FieldEmail:
		c.Kind, c.InputType = ControlInput, "email"
	case FieldPhone:
		c.Kind, c.InputType = ControlInput, "tel"
	case FieldNumber:
		c.Kind, c.InputType = ControlInput, "number"
	case FieldDate:
		c.Kind, c.InputType = ControlInput, "date"
	case FieldTextarea:
		c.Kind = ControlTextArea
	case FieldSelect:
		c.Kind = ControlSelect
	case FieldRadio:
		c.Kind = ControlRadio
	case FieldCheckbox:
		c.Kind = ControlCheckbox
	default:
		return Control{}, fmt.Errorf("field %q: unknown type %q", f.ID, f.Type)
	}
	return c, nil
}

// Form is a template being filled in for one patient, either as a new
// instance or as an edit of an existing one.
type Form struct {
	template   *Template
	patientID  uuid.UUID
	instanceID uuid.UUID
	values     Values
	now        func() time.Time
}

// NewForm starts an empty form. Only active templates can be filled in.
func NewForm(t *Template, patientID uuid.UUID) (*Form, error) {
	if !t.Active {
		return nil, ErrTemplateInactive
	}
	return newForm(t, patientID)
}

// EditForm opens an existing instance against its template's current shape.
// Stored answers that no longer fit their field are left unbound and are
// dropped when the form is saved.
func EditForm(inst *InstanceWithTemplate) (*Form, error) {
	if inst.Template == nil {
		return nil, &NotFoundError{Kind: "template", ID: inst.TemplateID}
	}
	f, err := newForm(inst.Template, inst.PatientID)
	if err != nil {
		return nil, err
	}
	f.instanceID = inst.ID
	for id, v := range inst.Values {
		field, ok := f.template.FieldByID(id)
		if !ok {
			continue
		}
		cv, err := coerce(field, v)
		if err != nil {
			continue
		}
		f.store(id, cv)
	}
	return f, nil
}

func newForm(t *Template, patientID uuid.UUID) (*Form, error) {
	for _, field := range t.Fields() {
		if _, err := controlFor(field); err != nil {
			return nil, err
		}
	}
	f := &Form{
		template:  t.Clone(),
		patientID: patientID,
		values:    Values{},
		now:       time.Now,
	}
	for _, field := range f.template.Fields() {
		if field.Type == FieldCheckbox {
			f.values[field.ID] = StringList()
		}
	}
	return f, nil
}

func (f *Form) Template() *Template { return f.template.Clone() }

func (f *Form) PatientID() uuid.UUID { return f.patientID }

func (f *Form) InstanceID() uuid.UUID { return f.instanceID }

// Editing reports whether Submit will update an existing instance.
func (f *Form) Editing() bool { return f.instanceID != uuid.Nil }

// Sections returns the rendered sections in template order.
func (f *Form) Sections() []SectionView {
	out := make([]SectionView, len(f.template.Sections))
	for i, s := range f.template.Sections {
		out[i] = SectionView{Title: s.Title, Controls: make([]Control, len(s.Fields))}
		for j, field := range s.Fields {
			c, _ := controlFor(field)
			c.Value = f.values[field.ID]
			out[i].Controls[j] = c
		}
	}
	return out
}

// Control returns the control for one field.
func (f *Form) Control(fieldID string) (Control, bool) {
	field, ok := f.template.FieldByID(fieldID)
	if !ok {
		return Control{}, false
	}
	c, _ := controlFor(field)
	c.Value = f.values[fieldID]
	return c, true
}

// Value returns the bound value of a field. ok is false when it is unset.
func (f *Form) Value(fieldID string) (Value, bool) {
	v, ok := f.values[fieldID]
	return v, ok
}

// Values returns a copy of the bound answers.
func (f *Form) Values() Values { return f.values.Clone() }

// Set binds v to a field after checking it fits the field's type. An empty
// text value clears the field.
func (f *Form) Set(fieldID string, v Value) error {
	field, ok := f.template.FieldByID(fieldID)
	if !ok {
		return &BindError{FieldID: fieldID, Message: "no such field"}
	}
	cv, err := coerce(field, v)
	if err != nil {
		return &BindError{FieldID: fieldID, Message: err.Error()}
	}
	f.store(fieldID, cv)
	return nil
}

// SetString binds raw control input. Checkbox fields take a single option
// and replace the selection with it.
func (f *Form) SetString(fieldID, raw string) error {
	field, ok := f.template.FieldByID(fieldID)
	if ok && field.Type == FieldCheckbox {
		if raw == "" {
			return f.Set(fieldID, StringList())
		}
		return f.Set(fieldID, StringList(raw))
	}
	return f.Set(fieldID, Text(raw))
}

// Choose selects one option of a select or radio field.
func (f *Form) Choose(fieldID, option string) error {
	field, ok := f.template.FieldByID(fieldID)
	if !ok {
		return &BindError{FieldID: fieldID, Message: "no such field"}
	}
	if field.Type != FieldSelect && field.Type != FieldRadio {
		return &BindError{FieldID: fieldID, Message: "not a single-choice field"}
	}
	return f.Set(fieldID, Text(option))
}

// Toggle adds option to a checkbox selection, or removes it when already
// selected. It reports whether the option is selected afterwards.
func (f *Form) Toggle(fieldID, option string) (bool, error) {
	field, ok := f.template.FieldByID(fieldID)
	if !ok {
		return false, &BindError{FieldID: fieldID, Message: "no such field"}
	}
	if field.Type != FieldCheckbox {
		return false, &BindError{FieldID: fieldID, Message: "not a checkbox field"}
	}
	cur, _ := f.values[fieldID].AsStringList()
	selected := !slices.Contains(cur, option)
	if selected {
		cur = append(cur, option)
	} else {
		cur = slices.DeleteFunc(cur, func(s string) bool { return s == option })
	}
	if err := f.Set(fieldID, StringList(cur...)); err != nil {
		return false, err
	}
	return selected, nil
}

// Clear unsets a field. Checkbox fields go back to an empty selection.
func (f *Form) Clear(fieldID string) error {
	field, ok := f.template.FieldByID(fieldID)
	if !ok {
		return &BindError{FieldID: fieldID, Message: "no such field"}
	}
	f.clear(field)
	return nil
}

// Bind replaces every answer with vals. Nothing changes if any value fails to
// bind; the first failure in key order is returned.
func (f *Form) Bind(vals Values) error {
	next := Values{}
	for _, field := range f.template.Fields() {
		if field.Type == FieldCheckbox {
			next[field.ID] = StringList()
		}
	}
	for _, id := range vals.Keys() {
		field, ok := f.template.FieldByID(id)
		if !ok {
			return &BindError{FieldID: id, Message: "no such field"}
		}
		cv, err := coerce(field, vals[id])
		if err != nil {
			return &BindError{FieldID: id, Message: err.Error()}
		}
		if cv.Kind() == KindNone {
			continue
		}
		next[id] = cv
	}
	f.values = next
	return nil
}

// Validate lists the labels of unanswered required fields.
func (f *Form) Validate() []string {
	return Validate(f.template, f.values)
}

// Submit validates the answers and persists them: a new instance completed
// today, or a wholesale replacement of the edited instance's values.
func (f *Form) Submit(ctx context.Context, w InstanceWriter) (uuid.UUID, error) {
	if missing := f.Validate(); len(missing) > 0 {
		return uuid.Nil, &RequiredFieldError{Labels: missing}
	}
	if f.Editing() {
		if err := w.UpdateInstance(ctx, f.instanceID, f.Values()); err != nil {
			return uuid.Nil, err
		}
		return f.instanceID, nil
	}
	id, err := w.CreateInstance(ctx, f.patientID, f.template.ID, f.Values(), f.now().Format(DateLayout))
	if err != nil {
		return uuid.Nil, err
	}
	f.instanceID = id
	return id, nil
}

func (f *Form) store(id string, v Value) {
	if v.Kind() == KindNone {
		field, _ := f.template.FieldByID(id)
		f.clear(field)
		return
	}
	f.values[id] = v
}

func (f *Form) clear(field Field) {
	if field.Type == FieldCheckbox {
		f.values[field.ID] = StringList()
		return
	}
	delete(f.values, field.ID)
}

// coerce returns the canonical value of v for field f. A result of kind
// KindNone means the field should be cleared.
func coerce(f Field, v Value) (Value, error) {
	if v.Kind() == KindNone {
		return Value{}, nil
	}
	switch f.Type {
	case FieldText, FieldTextarea, FieldEmail, FieldPhone:
		s, ok := v.AsText()
		if !ok {
			return Value{}, fmt.Errorf("expected text, got %s", v.Kind())
		}
		if s == "" {
			return Value{}, nil
		}
		return Text(s), nil

	case FieldNumber:
		if n, ok := v.AsNumber(); ok {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return Value{}, fmt.Errorf("number must be finite")
			}
			return Number(n), nil
		}
		s, ok := v.AsText()
		if !ok {
			return Value{}, fmt.Errorf("expected number, got %s", v.Kind())
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return Value{}, nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, fmt.Errorf("%q is not a number", s)
		}
		return Number(n), nil

	case FieldDate:
		s, ok := v.AsText()
		if !ok {
			return Value{}, fmt.Errorf("expected date, got %s", v.Kind())
		}
		if s == "" {
			return Value{}, nil
		}
		if _, err := time.Parse(DateLayout, s); err != nil {
			return Value{}, fmt.Errorf("%q is not a date (want YYYY-MM-DD)", s)
		}
		return Text(s), nil

	case FieldSelect, FieldRadio:
		s, ok := v.AsText()
		if !ok {
			return Value{}, fmt.Errorf("expected one option, got %s", v.Kind())
		}
		if s == "" {
			return Value{}, nil
		}
		if !slices.Contains(f.Options, s) {
			return Value{}, fmt.Errorf("%q is not one of the options", s)
		}
		return Text(s), nil

	case FieldCheckbox:
		l, ok := v.AsStringList()
		if !ok {
			return Value{}, fmt.Errorf("expected a list of options, got %s", v.Kind())
		}
		out := make([]string, 0, len(l))
		for _, item := range l {
			if !slices.Contains(f.Options, item) {
				return Value{}, fmt.Errorf("%q is not one of the options", item)
			}
			if !slices.Contains(out, item) {
				out = append(out, item)
			}
		}
		return StringList(out...), nil
	}
	return Value{}, fmt.Errorf("unknown field type %q", f.Type)
}
