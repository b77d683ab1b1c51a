package certificates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"event-portal/portal-backend/pkg/storage"
	"event-portal/portal-backend/pkg/workflows"
)

const (
	DefaultUniqueCodeAttempts = 3
	DefaultMaxConcurrent      = 4

	pdfContentType = "application/pdf"
)

// GenerateRequest asks for the certificate of one subject under a template
type GenerateRequest struct {
	TemplateID    uint          `json:"template_id"`
	Subject       Subject       `json:"subject"`
	Recipient     RecipientData `json:"recipient"`
	RecipientType string        `json:"recipient_type,omitempty"`
	Ownership     Ownership     `json:"ownership"`
	// SerialYear selects the serial scope year; 0 means the current year
	SerialYear int `json:"serial_year,omitempty"`
}

func (r GenerateRequest) Validate() error {
	if r.TemplateID == 0 {
		return fmt.Errorf("%w: template id is required", ErrInvalidRequest)
	}
	if err := r.Subject.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Recipient.RecipientName) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrInvalidRequest)
	}
	return nil
}

// Outcome is the result of one lifecycle run
type Outcome struct {
	Certificate *Certificate     `json:"certificate"`
	Regenerated bool             `json:"regenerated"`
	Warnings    []ElementWarning `json:"warnings,omitempty"`
}

type ManagerOptions struct {
	UniqueCodeAttempts int
	MaxConcurrent      int
	Now                func() time.Time
}

// Manager drives certificates through lookup, issuance, rendering, storage
// and persistence
type Manager struct {
	repo       Repository
	serials    *SerialService
	compositor *Compositor
	store      storage.DocumentStore
	states     *workflows.StateMachine
	logger     *zap.Logger
	metrics    *Metrics
	opts       ManagerOptions
}

func NewManager(repo Repository, serials *SerialService, compositor *Compositor, store storage.DocumentStore, logger *zap.Logger, metrics *Metrics, opts ManagerOptions) *Manager {
	if opts.UniqueCodeAttempts <= 0 {
		opts.UniqueCodeAttempts = DefaultUniqueCodeAttempts
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:       repo,
		serials:    serials,
		compositor: compositor,
		store:      store,
		states:     workflows.NewStateMachine(workflows.CertificateTransitions()),
		logger:     logger,
		metrics:    metrics,
		opts:       opts,
	}
}

// DocumentKey is the storage key of a certificate's document. It depends
// only on identifiers, so regeneration replaces the previous document.
func DocumentKey(c *Certificate) string {
	return fmt.Sprintf("certificates/T%d/%s.pdf", c.TemplateID, c.UniqueCode)
}

// Generate creates the subject's certificate or regenerates the existing one.
// Identifiers of an existing certificate are never changed.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, &LifecycleError{Step: StepValidate, Subject: req.Subject, Err: err}
	}

	tmpl, err := m.template(ctx, req.TemplateID)
	if err != nil {
		return nil, &LifecycleError{Step: StepLookup, Subject: req.Subject, Err: err}
	}

	cert, err := m.repo.FindBySubject(ctx, req.TemplateID, req.Subject)
	if err != nil {
		return nil, &LifecycleError{Step: StepLookup, Subject: req.Subject, Err: err}
	}

	desc, descErr := tmpl.Descriptor()
	if cert != nil {
		applyDisplayFields(cert, req)
		if descErr != nil {
			return nil, m.fail(ctx, cert, StepRender, descErr)
		}
		return m.complete(ctx, desc, cert, recipientData(req, cert), true)
	}

	// nothing is issued for a template that cannot render
	if descErr != nil {
		return nil, &LifecycleError{Step: StepRender, Subject: req.Subject, Err: descErr}
	}
	if tmpl.Status == TemplateInactive {
		return nil, &LifecycleError{Step: StepLookup, Subject: req.Subject, Err: ErrTemplateInactive}
	}

	regenerated := false
	cert, err = m.create(ctx, tmpl, req)
	if errors.Is(err, ErrDuplicate) {
		// a concurrent request created it first
		cert, err = m.repo.FindBySubject(ctx, req.TemplateID, req.Subject)
		if err == nil && cert == nil {
			err = ErrDuplicate
		}
		if err == nil {
			applyDisplayFields(cert, req)
		}
		regenerated = true
	}
	if err != nil {
		var lerr *LifecycleError
		if errors.As(err, &lerr) {
			return nil, lerr
		}
		return nil, &LifecycleError{Step: StepLookup, Subject: req.Subject, Err: err}
	}

	return m.complete(ctx, desc, cert, recipientData(req, cert), regenerated)
}

func recipientData(req GenerateRequest, cert *Certificate) RecipientData {
	data := req.Recipient
	data.UniqueCode = cert.UniqueCode
	data.SerialNumber = cert.Serial()
	return data
}

// Regenerate re-renders a stored certificate from its own record
func (m *Manager) Regenerate(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	cert, err := m.repo.GetCertificate(ctx, id)
	if err == nil && cert == nil {
		err = fmt.Errorf("certificate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, &LifecycleError{Step: StepLookup, CertificateID: id, Err: err}
	}

	tmpl, err := m.template(ctx, cert.TemplateID)
	if err != nil {
		return nil, m.fail(ctx, cert, StepLookup, err)
	}
	desc, err := tmpl.Descriptor()
	if err != nil {
		return nil, m.fail(ctx, cert, StepRender, err)
	}
	return m.complete(ctx, desc, cert, recipientFromCertificate(cert), true)
}

// RenderCertificate renders a stored certificate without persisting anything
func (m *Manager) RenderCertificate(ctx context.Context, id uuid.UUID) (*Rendering, *Certificate, error) {
	cert, err := m.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cert == nil {
		return nil, nil, fmt.Errorf("certificate %s: %w", id, ErrNotFound)
	}
	_, desc, err := m.loadTemplate(ctx, cert.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	r, err := m.compositor.Render(desc, recipientFromCertificate(cert))
	if err != nil {
		return nil, nil, err
	}
	return r, cert, nil
}

// RenderSample renders a template with placeholder sample values
func (m *Manager) RenderSample(ctx context.Context, templateID uint) (*Rendering, error) {
	tmpl, desc, err := m.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	serial := ""
	if tmpl.SerialEnabled {
		code, err := TypeCode(tmpl.TargetType)
		if err != nil {
			return nil, err
		}
		scope := SerialScope{TemplateID: tmpl.ID, TargetType: tmpl.TargetType, Year: m.opts.Now().Year()}
		serial = FormatSerialNumber(m.serials.prefix, scope, code, 1)
	}

	return m.compositor.Render(desc, RecipientData{
		RecipientName:   "Sample Recipient",
		RecipientEmail:  "sample@example.com",
		AwardTitle:      "Sample Award",
		ContingentName:  "Sample Contingent",
		TeamName:        "Sample Team",
		ICNumber:        "000000-00-0000",
		ContestName:     "Sample Contest",
		UniqueCode:      "CERT-SAMPLE",
		SerialNumber:    serial,
		InstitutionName: "Sample Institution",
	})
}

func (m *Manager) template(ctx context.Context, id uint) (*CertTemplate, error) {
	tmpl, err := m.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return tmpl, nil
}

func (m *Manager) loadTemplate(ctx context.Context, id uint) (*CertTemplate, *TemplateDescriptor, error) {
	tmpl, err := m.template(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	desc, err := tmpl.Descriptor()
	if err != nil {
		return nil, nil, err
	}
	return tmpl, desc, nil
}

// create issues identifiers and inserts a PENDING record
func (m *Manager) create(ctx context.Context, tmpl *CertTemplate, req GenerateRequest) (*Certificate, error) {
	code, err := m.issueUniqueCode(ctx)
	if err != nil {
		return nil, &LifecycleError{Step: StepIssue, Subject: req.Subject, Err: err}
	}

	var serial *string
	if tmpl.SerialEnabled {
		s, err := m.serials.IssueSerialNumber(ctx, tmpl.ID, tmpl.TargetType, req.SerialYear)
		if err != nil {
			return nil, &LifecycleError{Step: StepIssue, Subject: req.Subject, Err: err}
		}
		serial = &s
	}

	cert := &Certificate{
		TemplateID:   tmpl.ID,
		SubjectKind:  req.Subject.Kind,
		SubjectID:    req.Subject.ID,
		UniqueCode:   code,
		SerialNumber: serial,
		ICNumber:     req.Recipient.ICNumber,
		Status:       StatusPending,
	}
	applyDisplayFields(cert, req)

	if err := m.repo.CreateCertificate(ctx, cert); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, &LifecycleError{Step: StepPersist, Subject: req.Subject, Err: err}
	}

	m.logger.Info("Certificate issued",
		zap.String("certificate_id", cert.ID.String()),
		zap.Uint("template_id", tmpl.ID),
		zap.String("subject", req.Subject.String()),
		zap.String("unique_code", code),
		zap.String("serial_number", cert.Serial()))
	return cert, nil
}

func (m *Manager) issueUniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < m.opts.UniqueCodeAttempts; i++ {
		code := m.serials.IssueUniqueCode()
		exists, err := m.repo.UniqueCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check unique code: %w", err)
		}
		if !exists {
			return code, nil
		}
		m.logger.Warn("Unique code collision", zap.String("unique_code", code))
	}
	return "", fmt.Errorf("no free unique code after %d attempts", m.opts.UniqueCodeAttempts)
}

// complete renders, stores and marks the certificate READY
func (m *Manager) complete(ctx context.Context, desc *TemplateDescriptor, cert *Certificate, data RecipientData, regenerated bool) (*Outcome, error) {
	if err := m.states.Transition(string(cert.Status), string(StatusReady)); err != nil {
		return nil, m.fail(ctx, cert, StepPersist, err)
	}

	rendering, err := m.compositor.Render(desc, data)
	if err != nil {
		return nil, m.fail(ctx, cert, StepRender, err)
	}

	ref, err := m.store.Put(ctx, DocumentKey(cert), rendering.PDF, pdfContentType)
	if err != nil {
		return nil, m.fail(ctx, cert, StepStore, err)
	}

	now := m.opts.Now().UTC()
	cert.Status = StatusReady
	cert.DocumentRef = &ref
	cert.IssuedAt = &now
	cert.FailureStep = nil
	cert.FailureReason = nil
	if err := m.repo.UpdateCertificate(ctx, cert); err != nil {
		return nil, m.fail(ctx, cert, StepPersist, err)
	}

	result := "generated"
	if regenerated {
		result = "regenerated"
	}
	m.metrics.lifecycleResult(result)
	m.logger.Info("Certificate ready",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("document_ref", ref),
		zap.Bool("regenerated", regenerated),
		zap.Int("warnings", len(rendering.Warnings)))

	return &Outcome{Certificate: cert, Regenerated: regenerated, Warnings: rendering.Warnings}, nil
}

// fail marks the record FAILED together with any refreshed display fields
// and returns the step error. Identifiers are left untouched.
func (m *Manager) fail(ctx context.Context, cert *Certificate, step Step, cause error) error {
	m.metrics.lifecycleResult("failed")
	m.logger.Error("Certificate generation failed",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("step", string(step)),
		zap.Error(cause))

	if err := m.states.Transition(string(cert.Status), string(StatusFailed)); err != nil {
		m.logger.Warn("Not marking certificate failed",
			zap.String("certificate_id", cert.ID.String()),
			zap.Strings("allowed", m.states.GetAllowedTransitions(string(cert.Status))),
			zap.Error(err))
		return &LifecycleError{Step: step, Subject: cert.Subject(), CertificateID: cert.ID, Err: cause}
	}

	ctx = context.WithoutCancel(ctx)
	s, r := string(step), cause.Error()
	failed := *cert
	failed.Status = StatusFailed
	failed.FailureStep = &s
	failed.FailureReason = &r

	err := m.repo.UpdateCertificate(ctx, &failed)
	if err != nil {
		m.logger.Warn("Failed to persist certificate fields, marking status only",
			zap.String("certificate_id", cert.ID.String()),
			zap.Error(err))
		err = m.repo.MarkFailed(ctx, cert.ID, step, r)
	}
	if err != nil {
		m.logger.Error("Failed to mark certificate failed", zap.String("certificate_id", cert.ID.String()), zap.Error(err))
	} else {
		*cert = failed
	}

	return &LifecycleError{Step: step, Subject: cert.Subject(), CertificateID: cert.ID, Err: cause}
}

func applyDisplayFields(cert *Certificate, req GenerateRequest) {
	r := req.Recipient
	cert.RecipientName = r.RecipientName
	cert.RecipientEmail = r.RecipientEmail
	cert.RecipientType = req.RecipientType
	cert.InstitutionLabel = r.ContingentName
	cert.InstitutionName = r.InstitutionName
	cert.TeamName = r.TeamName
	cert.ContestName = r.ContestName
	cert.AwardTitle = nil
	if r.AwardTitle != "" {
		award := r.AwardTitle
		cert.AwardTitle = &award
	}
	cert.Ownership = datatypes.NewJSONType(req.Ownership)
}
