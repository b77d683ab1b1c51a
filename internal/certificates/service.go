package certificates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/certificates/export"
	"event-portal/portal-backend/pkg/storage"
)

type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*Outcome, error)
	GenerateBatch(ctx context.Context, templateID uint, reqs []GenerateRequest) *BatchResult
	Regenerate(ctx context.Context, id uuid.UUID) (*Outcome, error)
	RenderSample(ctx context.Context, templateID uint) ([]byte, error)

	GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error)
	DownloadCertificate(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Certificate, error)

	VerifySerial(ctx context.Context, serial string) (*SerialVerification, error)
	ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error)
	PreviewSerial(ctx context.Context, templateID uint, target TargetType, year int) (string, error)

	ExportRegister(ctx context.Context, templateID uint, w io.Writer) error
	BulkDownload(ctx context.Context, templateID uint, opts BulkDownloadOptions) (*BulkArchive, error)
}

// SerialVerification answers whether a serial number was issued
type SerialVerification struct {
	SerialNumber string        `json:"serial_number"`
	Valid        bool          `json:"valid"`
	Parsed       *ParsedSerial `json:"parsed,omitempty"`
	Certificate  *Certificate  `json:"certificate,omitempty"`
}

type certificateService struct {
	repo     Repository
	manager  *Manager
	serials  *SerialService
	store    storage.DocumentStore
	exporter *export.RegisterExporter
	logger   *zap.Logger
}

func NewService(repo Repository, manager *Manager, serials *SerialService, store storage.DocumentStore, logger *zap.Logger) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &certificateService{
		repo:     repo,
		manager:  manager,
		serials:  serials,
		store:    store,
		exporter: export.NewRegisterExporter(export.DefaultRegisterOptions()),
		logger:   logger,
	}
}

func (s *certificateService) Generate(ctx context.Context, req GenerateRequest) (*Outcome, error) {
	return s.manager.Generate(ctx, req)
}

func (s *certificateService) GenerateBatch(ctx context.Context, templateID uint, reqs []GenerateRequest) *BatchResult {
	return s.manager.GenerateBatch(ctx, templateID, reqs)
}

func (s *certificateService) Regenerate(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	return s.manager.Regenerate(ctx, id)
}

func (s *certificateService) RenderSample(ctx context.Context, templateID uint) ([]byte, error) {
	r, err := s.manager.RenderSample(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return r.PDF, nil
}

func (s *certificateService) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	cert, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("certificate %s: %w", id, ErrNotFound)
	}
	return cert, nil
}

// DownloadCertificate streams the stored document. Certificates without a
// stored document are rendered on demand.
func (s *certificateService) DownloadCertificate(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Certificate, error) {
	cert, err := s.GetCertificate(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if cert.Status == StatusReady && cert.DocumentRef != nil {
		rc, err := s.store.Get(ctx, *cert.DocumentRef)
		if err == nil {
			return rc, cert, nil
		}
		s.logger.Warn("Stored certificate document unavailable, rendering on demand",
			zap.String("certificate_id", id.String()),
			zap.Error(err))
	}

	r, _, err := s.manager.RenderCertificate(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(bytes.NewReader(r.PDF)), cert, nil
}

func (s *certificateService) VerifySerial(ctx context.Context, serial string) (*SerialVerification, error) {
	parsed, err := s.serials.ParseSerialNumber(serial)
	if err != nil {
		return nil, err
	}
	cert, err := s.repo.FindBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	return &SerialVerification{
		SerialNumber: serial,
		Valid:        cert != nil,
		Parsed:       parsed,
		Certificate:  cert,
	}, nil
}

func (s *certificateService) ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error) {
	return s.serials.ListTemplateSerials(ctx, templateID)
}

func (s *certificateService) PreviewSerial(ctx context.Context, templateID uint, target TargetType, year int) (string, error) {
	if target == "" {
		tmpl, err := s.repo.GetTemplate(ctx, templateID)
		if err != nil {
			return "", err
		}
		if tmpl == nil {
			return "", fmt.Errorf("template %d: %w", templateID, ErrNotFound)
		}
		target = tmpl.TargetType
	}
	return s.serials.PreviewNextSerialNumber(ctx, templateID, target, year)
}

func (s *certificateService) ExportRegister(ctx context.Context, templateID uint, w io.Writer) error {
	tmpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tmpl == nil {
		return fmt.Errorf("template %d: %w", templateID, ErrNotFound)
	}

	certs, err := s.repo.ListByTemplate(ctx, templateID)
	if err != nil {
		return err
	}

	rows := make([]export.RegisterRow, 0, len(certs))
	for _, c := range certs {
		institution := c.InstitutionName
		if institution == "" {
			institution = c.InstitutionLabel
		}
		rows = append(rows, export.RegisterRow{
			SerialNumber:  c.Serial(),
			UniqueCode:    c.UniqueCode,
			RecipientName: c.RecipientName,
			Institution:   institution,
			TeamName:      c.TeamName,
			Status:        string(c.Status),
			IssuedAt:      c.IssuedAt,
		})
	}
	return s.exporter.Write(w, tmpl.TemplateName, rows)
}

// BulkDownload prepares a zip of the template's READY certificates. Lookup
// errors surface here; document problems while writing are logged and skipped.
func (s *certificateService) BulkDownload(ctx context.Context, templateID uint, opts BulkDownloadOptions) (*BulkArchive, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}

	tmpl, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("template %d: %w", templateID, ErrNotFound)
	}

	certs, err := s.repo.ListReady(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("template %d has no generated certificates: %w", templateID, ErrNotFound)
	}

	w := &bulkWriter{
		store:    s.store,
		logger:   s.logger.With(zap.Uint("template_id", templateID), zap.String("merging_type", string(opts.Mode))),
		opts:     opts,
		template: tmpl.TemplateName,
		certs:    certs,
	}
	return &BulkArchive{
		Filename:     fmt.Sprintf("certificates-%s-%d.zip", sanitizeFileName(tmpl.TemplateName), time.Now().Unix()),
		Certificates: len(certs),
		write:        w.write,
	}, nil
}
