package forms

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/daniilsirbu/medical-records-management-system/internal/platform/auth"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrTemplateInactive is returned when a retired template is used for a
	// new instance.
	ErrTemplateInactive = errors.New("template is not active")
)

// Builder rules reported by BuilderValidationError.
const (
	RuleNameRequired    = "name_required"
	RuleSectionRequired = "section_required"
	RuleSectionEmpty    = "section_empty"
	RuleDuplicateField  = "duplicate_field_id"
	RuleUnknownType     = "unknown_field_type"
	RuleOptionsRequired = "options_required"
	RuleFieldIDRequired = "field_id_required"
	RuleLastSection     = "last_section"
	RulePosition        = "invalid_position"
	RuleNotOptionField  = "not_option_field"
	RuleAlreadySubmit   = "already_submitted"
)

// BuilderValidationError reports a template definition that may not be
// persisted (or a draft edit that may not be applied).
type BuilderValidationError struct {
	Rule    string
	Section int // -1 when the rule is not tied to a section
	Field   string
	Message string
}

func (e *BuilderValidationError) Error() string {
	return "invalid template: " + e.Message
}

func builderErr(rule string, section int, field, format string, args ...any) error {
	return &BuilderValidationError{
		Rule:    rule,
		Section: section,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// RequiredFieldError lists the labels of required fields left unanswered.
type RequiredFieldError struct {
	Labels []string
}

func (e *RequiredFieldError) Error() string {
	return "required fields missing: " + strings.Join(e.Labels, ", ")
}

// BindError reports a value that cannot be bound to a field's control.
type BindError struct {
	FieldID string
	Message string
}

func (e *BindError) Error() string {
	return fmt.Sprintf("field %q: %s", e.FieldID, e.Message)
}

// NotFoundError reports a template or instance id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AuthorizationError reports a refused caller.
type AuthorizationError struct {
	Access auth.Access
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s access denied: %v", e.Access, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure of the underlying store. It is never
// retried here.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// wrapStoreErr passes NotFoundError through and wraps anything else.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
