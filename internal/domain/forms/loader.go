package forms

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// templateDoc is the on-disk shape of a template definition. Active defaults
// to true when omitted.
type templateDoc struct {
	Name        string    `yaml:"name"`
	Description *string   `yaml:"description"`
	Active      *bool     `yaml:"active"`
	Sections    []Section `yaml:"sections"`
}

// DecodeTemplates reads one or more YAML documents, each holding a template
// definition, and validates every one of them. Unknown keys are rejected.
func DecodeTemplates(r io.Reader) ([]*Template, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []*Template
	for i := 0; ; i++ {
		var doc templateDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		t := NewTemplate(doc.Name, doc.Description, doc.Sections, doc.Active)
		if err := ValidateDefinition(t); err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i+1, doc.Name, err)
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("no template definitions found")
	}
	return out, nil
}

// LoadTemplateFile decodes the definitions in a YAML file.
func LoadTemplateFile(path string) ([]*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	ts, err := DecodeTemplates(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ts, nil
}

// EncodeTemplate writes t in the format DecodeTemplates reads.
func EncodeTemplate(w io.Writer, t *Template) error {
	active := t.Active
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(templateDoc{
		Name:        t.Name,
		Description: t.Description,
		Active:      &active,
		Sections:    t.Sections,
	}); err != nil {
		return err
	}
	return enc.Close()
}
