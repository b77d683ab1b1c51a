package certificates

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidTargetType = errors.New("invalid target type")
	ErrTemplateInactive  = errors.New("template is inactive")

	// ErrSerialConflict marks a transient store conflict. Issuance retries it.
	ErrSerialConflict = errors.New("serial sequence conflict")
	// ErrIssuanceFailed is returned once serial issuance gives up
	ErrIssuanceFailed = errors.New("serial issuance failed")

	// ErrDuplicate is a unique index violation on certificate create
	ErrDuplicate = errors.New("duplicate certificate")
)

// TemplateLoadError means the base document could not be read or parsed
type TemplateLoadError struct {
	Path string
	Err  error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("load base document %q: %v", e.Path, e.Err)
}

func (e *TemplateLoadError) Unwrap() error { return e.Err }

// InvalidConfigurationError means a template's element configuration is
// structurally unusable
type InvalidConfigurationError struct {
	TemplateID uint
	Reason     string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("template %d: invalid configuration: %s", e.TemplateID, e.Reason)
}

// ElementWarning records an element skipped during rendering. It never fails
// the document.
type ElementWarning struct {
	ElementID string `json:"element_id"`
	Index     int    `json:"index"`
	Err       error  `json:"-"`
}

func (w ElementWarning) Error() string {
	if w.ElementID == "" {
		return fmt.Sprintf("element #%d: %v", w.Index, w.Err)
	}
	return fmt.Sprintf("element %q: %v", w.ElementID, w.Err)
}

func (w ElementWarning) Unwrap() error { return w.Err }

// IssuanceError wraps the last store error after retries are exhausted
type IssuanceError struct {
	Scope    SerialScope
	Attempts int
	Err      error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("issue serial for %s after %d attempt(s): %v", e.Scope, e.Attempts, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

func (e *IssuanceError) Is(target error) bool { return target == ErrIssuanceFailed }

// Step names a lifecycle stage
type Step string

const (
	StepValidate Step = "validate"
	StepLookup   Step = "lookup"
	StepIssue    Step = "issue"
	StepRender   Step = "render"
	StepStore    Step = "store"
	StepPersist  Step = "persist"
)

// LifecycleError reports the step at which certificate generation stopped
type LifecycleError struct {
	Step          Step
	Subject       Subject
	CertificateID uuid.UUID
	Err           error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("certificate %s: %s step: %v", e.Subject, e.Step, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }
