package forms

import (
	"embed"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/microcosm-cc/bluemonday"
)

//go:embed templates/form.html
var templateFS embed.FS

const formTemplate = "templates/form.html"

var (
	descriptionPolicyOnce sync.Once
	descriptionPolicy     *bluemonday.Policy
)

// descriptionSanitizer allows light formatting in template descriptions and
// strips everything else.
func descriptionSanitizer() *bluemonday.Policy {
	descriptionPolicyOnce.Do(func() {
		p := bluemonday.StrictPolicy()
		p.AllowElements("p", "br", "strong", "em", "b", "i", "ul", "ol", "li")
		descriptionPolicy = p
	})
	return descriptionPolicy
}

// HTMLRenderer writes a Form as a plain HTML page that posts back to the
// server. The page template is compiled once.
type HTMLRenderer struct {
	tpl *pongo2.Template
}

func NewHTMLRenderer() (*HTMLRenderer, error) {
	set := pongo2.NewSet("forms", pongo2.NewFSLoader(templateFS))
	tpl, err := set.FromFile(formTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile form template: %w", err)
	}
	return &HTMLRenderer{tpl: tpl}, nil
}

type optionView struct {
	Value   string
	Checked bool
}

type controlView struct {
	ID          string
	Label       string
	Kind        string
	InputType   string
	Placeholder string
	Value       string
	Required    bool
	Options     []optionView
	Min         string
	Max         string
	Pattern     string
}

type sectionView struct {
	Title    string
	Controls []controlView
}

// Render writes the page. action is the URL the form posts to; missing lists
// labels to flag after a rejected submission.
func (r *HTMLRenderer) Render(w io.Writer, f *Form, action string, missing []string) error {
	t := f.template
	ctx := pongo2.Context{
		"title":    t.Name,
		"action":   action,
		"missing":  missing,
		"editing":  f.Editing(),
		"sections": htmlSections(f),
	}
	if t.Description != nil {
		ctx["description"] = descriptionSanitizer().Sanitize(*t.Description)
	}
	if err := r.tpl.ExecuteWriter(ctx, w); err != nil {
		return fmt.Errorf("render form %s: %w", t.ID, err)
	}
	return nil
}

func htmlSections(f *Form) []sectionView {
	var out []sectionView
	for _, s := range f.Sections() {
		sv := sectionView{Title: s.Title}
		for _, c := range s.Controls {
			sv.Controls = append(sv.Controls, htmlControl(c))
		}
		out = append(out, sv)
	}
	return out
}

func htmlControl(c Control) controlView {
	cv := controlView{
		ID:        c.Field.ID,
		Label:     c.Field.Label,
		Kind:      string(c.Kind),
		InputType: c.InputType,
		Required:  c.Field.Required,
		Value:     c.Value.String(),
	}
	if c.Field.Placeholder != nil {
		cv.Placeholder = *c.Field.Placeholder
	}
	if v := c.Field.Validation; v != nil {
		if v.Min != nil {
			cv.Min = strconv.FormatFloat(*v.Min, 'f', -1, 64)
		}
		if v.Max != nil {
			cv.Max = strconv.FormatFloat(*v.Max, 'f', -1, 64)
		}
		if v.Pattern != nil {
			cv.Pattern = *v.Pattern
		}
	}
	selected, _ := c.Value.AsStringList()
	single, _ := c.Value.AsText()
	for _, o := range c.Field.Options {
		cv.Options = append(cv.Options, optionView{
			Value:   o,
			Checked: o == single || slices.Contains(selected, o),
		})
	}
	return cv
}

// BindPost binds a submitted HTML form. Checkbox fields read every value
// posted under their id; other fields read the first. Keys that name no field
// are ignored.
func BindPost(f *Form, post url.Values) error {
	vals := Values{}
	for _, field := range f.template.Fields() {
		raw, ok := post[field.ID]
		if field.Type == FieldCheckbox {
			vals[field.ID] = StringList(raw...)
			continue
		}
		if !ok || len(raw) == 0 {
			continue
		}
		vals[field.ID] = Text(raw[0])
	}
	return f.Bind(vals)
}
