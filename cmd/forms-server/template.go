package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/daniilsirbu/medical-records-management-system/internal/config"
	"github.com/daniilsirbu/medical-records-management-system/internal/domain/forms"
	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
)

var (
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// cliSession is a service bound to the configured store, acting as a local
// administrator.
type cliSession struct {
	ctx     context.Context
	svc     *forms.Service
	release func()
	st      *store
}

func openSession(cmd *cobra.Command) (*cliSession, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger = newLogger(cfg)
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}

	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	ctx, release, err := st.bind(cmd.Context(), tenant)
	if err != nil {
		st.Close()
		return nil, err
	}
	ctx = auth.WithPrincipal(ctx, "cli", []string{auth.RoleAdmin})
	return &cliSession{
		ctx:     ctx,
		svc:     forms.NewService(st.templates, st.instances, auth.DefaultAuthorizer(), logger),
		release: release,
		st:      st,
	}, nil
}

func (s *cliSession) Close() {
	s.release()
	s.st.Close()
}

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Author and inspect form templates",
	}
	cmd.PersistentFlags().String("tenant", "", "Tenant to act on (defaults to DEFAULT_TENANT)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log store operations")

	cmd.AddCommand(templateImportCmd())
	cmd.AddCommand(templateBuildCmd())
	cmd.AddCommand(templateListCmd())
	cmd.AddCommand(templateShowCmd())
	return cmd
}

func templateImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create templates from a YAML definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := forms.LoadTemplateFile(args[0])
			if err != nil {
				return err
			}
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			for _, t := range templates {
				id, err := sess.svc.CreateTemplate(sess.ctx, t)
				if err != nil {
					return fmt.Errorf("import %q: %w", t.Name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, t.Name)
			}
			return nil
		},
	}
}

func templateBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a template interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			out := cmd.OutOrStdout()

			if dryRun {
				b := forms.NewBuilder(nil)
				if err := runBuilder(surveyPrompter{}, b); err != nil {
					return err
				}
				return forms.EncodeTemplate(out, b.Draft())
			}

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			b := forms.NewBuilder(sess.svc)
			if err := runBuilder(surveyPrompter{}, b); err != nil {
				return err
			}
			id, err := b.Submit(sess.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "created template %s\n", id)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "Print the template as YAML instead of saving it")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List form templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			all, _ := cmd.Flags().GetBool("all")

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			list := sess.svc.ListTemplates
			if all {
				list = sess.svc.ListAllTemplates
			}
			templates, _, err := list(sess.ctx, 1000, 0)
			if err != nil {
				return err
			}
			templates = filterTemplates(templates, search)
			if len(templates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no templates"))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), templateTable(templates))
			return nil
		},
	}
	cmd.Flags().StringP("search", "s", "", "Fuzzy filter on name and description")
	cmd.Flags().Bool("all", false, "Include retired templates")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template's sections and fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid template id %q", args[0])
			}
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			t, err := sess.svc.GetTemplate(sess.ctx, id)
			if err != nil {
				return err
			}
			r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err != nil {
				return err
			}
			rendered, err := r.Render(templateMarkdown(t))
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), rendered)
			return err
		},
	}
}

// filterTemplates keeps the templates whose name or description fuzzily
// matches query, best match first. An empty query keeps everything.
func filterTemplates(templates []*forms.Template, query string) []*forms.Template {
	query = strings.TrimSpace(query)
	if query == "" {
		return templates
	}
	haystack := make([]string, len(templates))
	for i, t := range templates {
		haystack[i] = t.Name
		if t.Description != nil {
			haystack[i] += " " + *t.Description
		}
	}
	matches := fuzzy.Find(query, haystack)
	out := make([]*forms.Template, 0, len(matches))
	for _, m := range matches {
		out = append(out, templates[m.Index])
	}
	return out
}

func templateTable(templates []*forms.Template) string {
	rows := make([][]string, 0, len(templates))
	for _, t := range templates {
		status := "active"
		if !t.Active {
			status = "retired"
		}
		rows = append(rows, []string{
			t.ID.String(),
			t.Name,
			fmt.Sprint(len(t.Sections)),
			fmt.Sprint(t.FieldCount()),
			status,
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "NAME", "SECTIONS", "FIELDS", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func templateMarkdown(t *forms.Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Name)
	if t.Description != nil && *t.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", *t.Description)
	}
	status := "active"
	if !t.Active {
		status = "retired"
	}
	fmt.Fprintf(&b, "`%s` · %s · %d fields\n", t.ID, status, t.FieldCount())
	for _, s := range t.Sections {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Title)
		b.WriteString("| ID | Type | Label | Required | Options |\n")
		b.WriteString("|----|------|-------|----------|---------|\n")
		for _, f := range s.Fields {
			required := ""
			if f.Required {
				required = "yes"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
				f.ID, f.Type, mdCell(f.Label), required, mdCell(strings.Join(f.Options, ", ")))
		}
	}
	return b.String()
}

func mdCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// prompter asks the questions the interactive builder needs.
type prompter interface {
	Input(message, def string, required bool) (string, error)
	Select(message string, options []string, def string) (string, error)
	Confirm(message string, def bool) (bool, error)
}

type surveyPrompter struct{}

func (surveyPrompter) Input(message, def string, required bool) (string, error) {
	var out string
	var opts []survey.AskOpt
	if required {
		opts = append(opts, survey.WithValidator(survey.Required))
	}
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &out, opts...)
	return out, translateSurveyErr(err)
}

func (surveyPrompter) Select(message string, options []string, def string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Select{Message: message, Options: options, Default: def}, &out)
	return out, translateSurveyErr(err)
}

func (surveyPrompter) Confirm(message string, def bool) (bool, error) {
	var out bool
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &out)
	return out, translateSurveyErr(err)
}

var errAborted = errors.New("aborted")

func translateSurveyErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return errAborted
	}
	return err
}

// runBuilder walks the author through sections and fields, editing b.
func runBuilder(p prompter, b *forms.Builder) error {
	name, err := p.Input("Template name:", "", true)
	if err != nil {
		return err
	}
	b.SetName(name)
	desc, err := p.Input("Description (optional):", "", false)
	if err != nil {
		return err
	}
	b.SetDescription(desc)

	// a new draft starts with one empty section
	for si := 0; ; si = b.AddSection() {
		title, err := p.Input(fmt.Sprintf("Section %d title:", si+1), fmt.Sprintf("Section %d", si+1), true)
		if err != nil {
			return err
		}
		if err := b.RenameSection(si, title); err != nil {
			return err
		}
		for fi := 0; ; fi++ {
			if err := promptField(p, b, si, fi); err != nil {
				return err
			}
			more, err := p.Confirm("Add another field to this section?", true)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		more, err := p.Confirm("Add another section?", false)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

func promptField(p prompter, b *forms.Builder, si, fi int) error {
	if _, err := b.AddField(si); err != nil {
		return err
	}
	label, err := p.Input("Field label:", "", true)
	if err != nil {
		return err
	}
	types := make([]string, len(forms.FieldTypes))
	for i, t := range forms.FieldTypes {
		types[i] = string(t)
	}
	picked, err := p.Select("Field type:", types, string(forms.FieldText))
	if err != nil {
		return err
	}
	required, err := p.Confirm("Required?", false)
	if err != nil {
		return err
	}
	ft := forms.FieldType(picked)
	if err := b.UpdateField(si, fi, forms.FieldPatch{Type: &ft, Label: &label, Required: &required}); err != nil {
		return err
	}
	if !ft.HasOptions() {
		return nil
	}

	raw, err := p.Input("Options (comma separated):", "", true)
	if err != nil {
		return err
	}
	for i, opt := range splitOptions(raw) {
		if i > 0 {
			if _, err := b.AddOption(si, fi); err != nil {
				return err
			}
		}
		if err := b.UpdateOption(si, fi, i, opt); err != nil {
			return err
		}
	}
	return nil
}

func splitOptions(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
