package forms

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TemplateCreator persists a finished definition. *Service satisfies it.
type TemplateCreator interface {
	CreateTemplate(ctx context.Context, t *Template) (uuid.UUID, error)
}

// FieldPatch carries the attributes UpdateField merges into a field. Nil
// members are left untouched.
type FieldPatch struct {
	Type        *FieldType
	Label       *string
	Required    *bool
	Placeholder *string
	Validation  *FieldValidation
}

const (
	defaultFieldLabel = "New field"
	defaultOptionFmt  = "Option %d"
	defaultSectionFmt = "Section %d"
)

// Builder holds an unpersisted template draft. Nothing it does is visible to
// any reader until Submit succeeds.
type Builder struct {
	store     TemplateCreator
	draft     Template
	ids       map[string]struct{}
	newID     func() string
	submitted uuid.UUID
}

// NewBuilder starts a draft with a single empty section.
func NewBuilder(store TemplateCreator) *Builder {
	b := &Builder{
		store: store,
		ids:   make(map[string]struct{}),
		newID: generateFieldID,
	}
	b.draft.Active = true
	b.AddSection()
	return b
}

func generateFieldID() string {
	return "field_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Draft returns a deep copy of the current draft.
func (b *Builder) Draft() *Template {
	return b.draft.Clone()
}

func (b *Builder) SetName(name string) { b.draft.Name = name }

// SetDescription sets the description; an empty string clears it.
func (b *Builder) SetDescription(desc string) {
	if desc == "" {
		b.draft.Description = nil
		return
	}
	b.draft.Description = &desc
}

// AddSection appends a section with a generated title and returns its index.
func (b *Builder) AddSection() int {
	n := len(b.draft.Sections)
	b.draft.Sections = append(b.draft.Sections, Section{
		Title:  fmt.Sprintf(defaultSectionFmt, n+1),
		Fields: []Field{},
	})
	return n
}

func (b *Builder) RenameSection(sectionIndex int, title string) error {
	if err := b.checkSection(sectionIndex); err != nil {
		return err
	}
	b.draft.Sections[sectionIndex].Title = title
	return nil
}

// RemoveSection drops a section. The last remaining section cannot be removed.
func (b *Builder) RemoveSection(sectionIndex int) error {
	if err := b.checkSection(sectionIndex); err != nil {
		return err
	}
	if len(b.draft.Sections) == 1 {
		return builderErr(RuleLastSection, sectionIndex, "", "cannot remove the last section")
	}
	for _, f := range b.draft.Sections[sectionIndex].Fields {
		delete(b.ids, f.ID)
	}
	b.draft.Sections = append(b.draft.Sections[:sectionIndex], b.draft.Sections[sectionIndex+1:]...)
	return nil
}

// AddField appends a default text field to the section and returns its id.
func (b *Builder) AddField(sectionIndex int) (string, error) {
	if err := b.checkSection(sectionIndex); err != nil {
		return "", err
	}
	id := b.newID()
	for {
		if _, taken := b.ids[id]; !taken {
			break
		}
		id = b.newID()
	}
	b.ids[id] = struct{}{}
	s := &b.draft.Sections[sectionIndex]
	s.Fields = append(s.Fields, Field{
		ID:       id,
		Type:     FieldText,
		Label:    defaultFieldLabel,
		Required: false,
	})
	return id, nil
}

// UpdateField merges patch into the field. Moving into an option-bearing type
// from a plain one seeds a single default option; moving between
// option-bearing types keeps the list; moving to a plain type drops it.
func (b *Builder) UpdateField(sectionIndex, fieldIndex int, patch FieldPatch) error {
	f, err := b.field(sectionIndex, fieldIndex)
	if err != nil {
		return err
	}
	if patch.Type != nil {
		next := *patch.Type
		if !next.Valid() {
			return builderErr(RuleUnknownType, sectionIndex, f.ID, "unknown field type %q", next)
		}
		switch {
		case next.HasOptions() && !f.Type.HasOptions():
			f.Options = []string{fmt.Sprintf(defaultOptionFmt, 1)}
		case !next.HasOptions():
			f.Options = nil
		}
		f.Type = next
	}
	if patch.Label != nil {
		f.Label = *patch.Label
	}
	if patch.Required != nil {
		f.Required = *patch.Required
	}
	if patch.Placeholder != nil {
		p := *patch.Placeholder
		f.Placeholder = &p
	}
	if patch.Validation != nil {
		v := *patch.Validation
		f.Validation = &v
	}
	return nil
}

func (b *Builder) RemoveField(sectionIndex, fieldIndex int) error {
	f, err := b.field(sectionIndex, fieldIndex)
	if err != nil {
		return err
	}
	delete(b.ids, f.ID)
	s := &b.draft.Sections[sectionIndex]
	s.Fields = append(s.Fields[:fieldIndex], s.Fields[fieldIndex+1:]...)
	return nil
}

// AddOption appends "Option N" to an option-bearing field and returns its index.
func (b *Builder) AddOption(sectionIndex, fieldIndex int) (int, error) {
	f, err := b.optionField(sectionIndex, fieldIndex)
	if err != nil {
		return 0, err
	}
	f.Options = append(f.Options, fmt.Sprintf(defaultOptionFmt, len(f.Options)+1))
	return len(f.Options) - 1, nil
}

func (b *Builder) UpdateOption(sectionIndex, fieldIndex, optionIndex int, text string) error {
	f, err := b.optionField(sectionIndex, fieldIndex)
	if err != nil {
		return err
	}
	if optionIndex < 0 || optionIndex >= len(f.Options) {
		return builderErr(RulePosition, sectionIndex, f.ID, "option %d out of range", optionIndex)
	}
	f.Options[optionIndex] = text
	return nil
}

// RemoveOption drops one option. An option-bearing field always keeps at
// least one, matching ValidateDefinition.
func (b *Builder) RemoveOption(sectionIndex, fieldIndex, optionIndex int) error {
	f, err := b.optionField(sectionIndex, fieldIndex)
	if err != nil {
		return err
	}
	if optionIndex < 0 || optionIndex >= len(f.Options) {
		return builderErr(RulePosition, sectionIndex, f.ID, "option %d out of range", optionIndex)
	}
	if len(f.Options) == 1 {
		return builderErr(RuleOptionsRequired, sectionIndex, f.ID, "field %q of type %s needs at least one option", f.ID, f.Type)
	}
	f.Options = append(f.Options[:optionIndex], f.Options[optionIndex+1:]...)
	return nil
}

// Submit validates the draft and persists it in one call. On a validation
// failure nothing reaches the store.
func (b *Builder) Submit(ctx context.Context) (uuid.UUID, error) {
	if b.submitted != uuid.Nil {
		return uuid.Nil, builderErr(RuleAlreadySubmit, -1, "", "draft already submitted as %s", b.submitted)
	}
	if err := validateDraft(&b.draft); err != nil {
		return uuid.Nil, err
	}
	id, err := b.store.CreateTemplate(ctx, b.draft.Clone())
	if err != nil {
		return uuid.Nil, err
	}
	b.submitted = id
	return id, nil
}

func (b *Builder) checkSection(i int) error {
	if i < 0 || i >= len(b.draft.Sections) {
		return builderErr(RulePosition, i, "", "section %d out of range", i)
	}
	return nil
}

func (b *Builder) field(sectionIndex, fieldIndex int) (*Field, error) {
	if err := b.checkSection(sectionIndex); err != nil {
		return nil, err
	}
	s := &b.draft.Sections[sectionIndex]
	if fieldIndex < 0 || fieldIndex >= len(s.Fields) {
		return nil, builderErr(RulePosition, sectionIndex, "", "field %d out of range", fieldIndex)
	}
	return &s.Fields[fieldIndex], nil
}

func (b *Builder) optionField(sectionIndex, fieldIndex int) (*Field, error) {
	f, err := b.field(sectionIndex, fieldIndex)
	if err != nil {
		return nil, err
	}
	if !f.Type.HasOptions() {
		return nil, builderErr(RuleNotOptionField, sectionIndex, f.ID, "field %q of type %s has no options", f.ID, f.Type)
	}
	return f, nil
}

// validateDraft applies the persistability rules: a non-blank name and at
// least one field in every section.
func validateDraft(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return builderErr(RuleNameRequired, -1, "", "name is required")
	}
	return requireFields(t.Sections)
}

func requireFields(sections []Section) error {
	if len(sections) == 0 {
		return builderErr(RuleSectionRequired, -1, "", "at least one section is required")
	}
	for i, s := range sections {
		if len(s.Fields) == 0 {
			return builderErr(RuleSectionEmpty, i, "", "section %d (%q) has no fields", i+1, s.Title)
		}
	}
	return nil
}

// ValidateDefinition checks a definition authored outside the Builder: the
// draft rules plus the shape invariants the Builder guarantees by
// construction.
func ValidateDefinition(t *Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return builderErr(RuleNameRequired, -1, "", "name is required")
	}
	return ValidateSections(t.Sections)
}

// ValidateSections applies the definition rules that concern sections alone,
// for patches that replace them.
func ValidateSections(sections []Section) error {
	if err := requireFields(sections); err != nil {
		return err
	}
	if err := validateShape(&Template{Sections: sections}); err != nil {
		return err
	}
	for i, s := range sections {
		for _, f := range s.Fields {
			if f.Type.HasOptions() && len(f.Options) == 0 {
				return builderErr(RuleOptionsRequired, i, f.ID, "field %q of type %s needs at least one option", f.ID, f.Type)
			}
		}
	}
	return nil
}

// validateShape enforces the data-model invariants every stored template must
// satisfy: known field types and ids unique across the whole template.
func validateShape(t *Template) error {
	seen := make(map[string]struct{})
	for i, s := range t.Sections {
		for _, f := range s.Fields {
			if f.ID == "" {
				return builderErr(RuleFieldIDRequired, i, "", "field %q in section %d has no id", f.Label, i+1)
			}
			if !f.Type.Valid() {
				return builderErr(RuleUnknownType, i, f.ID, "field %q has unknown type %q", f.ID, f.Type)
			}
			if _, dup := seen[f.ID]; dup {
				return builderErr(RuleDuplicateField, i, f.ID, "field id %q is used more than once", f.ID)
			}
			seen[f.ID] = struct{}{}
		}
	}
	return nil
}
