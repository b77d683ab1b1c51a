package certificates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	CreateTemplate(ctx context.Context, tmpl *CertTemplate) error
	GetTemplate(ctx context.Context, id uint) (*CertTemplate, error)

	CreateCertificate(ctx context.Context, cert *Certificate) error
	GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error)
	FindBySubject(ctx context.Context, templateID uint, subject Subject) (*Certificate, error)
	FindBySerial(ctx context.Context, serial string) (*Certificate, error)
	UniqueCodeExists(ctx context.Context, code string) (bool, error)
	UpdateCertificate(ctx context.Context, cert *Certificate) error
	MarkFailed(ctx context.Context, id uuid.UUID, step Step, reason string) error

	ListByTemplate(ctx context.Context, templateID uint) ([]Certificate, error)
	ListByStatus(ctx context.Context, status CertificateStatus, limit int) ([]Certificate, error)
	// ListReady returns READY certificates with a stored document, ordered by
	// institution label then recipient name
	ListReady(ctx context.Context, templateID uint) ([]Certificate, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// mutableColumns are the only columns UpdateCertificate writes. Identifiers
// and subject identity never change after create.
var mutableColumns = []string{
	"recipient_name", "recipient_email", "recipient_type",
	"institution_label", "institution_name", "team_name", "contest_name", "award_title",
	"status", "document_ref", "failure_step", "failure_reason",
	"ownership", "issued_at", "updated_at",
}

func (r *gormRepository) CreateTemplate(ctx context.Context, tmpl *CertTemplate) error {
	return r.db.WithContext(ctx).Create(tmpl).Error
}

func (r *gormRepository) GetTemplate(ctx context.Context, id uint) (*CertTemplate, error) {
	var tmpl CertTemplate
	err := r.db.WithContext(ctx).First(&tmpl, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *gormRepository) CreateCertificate(ctx context.Context, cert *Certificate) error {
	err := r.db.WithContext(ctx).Create(cert).Error
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func (r *gormRepository) GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormRepository) FindBySubject(ctx context.Context, templateID uint, subject Subject) (*Certificate, error) {
	return r.first(ctx, "template_id = ? AND subject_kind = ? AND subject_id = ?", templateID, subject.Kind, subject.ID)
}

func (r *gormRepository) FindBySerial(ctx context.Context, serial string) (*Certificate, error) {
	return r.first(ctx, "serial_number = ?", serial)
}

func (r *gormRepository) first(ctx context.Context, query string, args ...interface{}) (*Certificate, error) {
	var cert Certificate
	err := r.db.WithContext(ctx).Where(query, args...).Take(&cert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func (r *gormRepository) UniqueCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Certificate{}).Where("unique_code = ?", code).Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) UpdateCertificate(ctx context.Context, cert *Certificate) error {
	cert.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(cert).Select(mutableColumns).Updates(cert)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("certificate %s: %w", cert.ID, ErrNotFound)
	}
	return nil
}

func (r *gormRepository) MarkFailed(ctx context.Context, id uuid.UUID, step Step, reason string) error {
	return r.db.WithContext(ctx).Model(&Certificate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         StatusFailed,
			"failure_step":   string(step),
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *gormRepository) ListByTemplate(ctx context.Context, templateID uint) ([]Certificate, error) {
	var certs []Certificate
	err := r.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("created_at ASC").
		Find(&certs).Error
	return certs, err
}

func (r *gormRepository) ListByStatus(ctx context.Context, status CertificateStatus, limit int) ([]Certificate, error) {
	var certs []Certificate
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&certs).Error
	return certs, err
}

func (r *gormRepository) ListReady(ctx context.Context, templateID uint) ([]Certificate, error) {
	var certs []Certificate
	err := r.db.WithContext(ctx).
		Where("template_id = ? AND status = ? AND document_ref IS NOT NULL", templateID, StatusReady).
		Order("institution_label ASC").
		Order("recipient_name ASC").
		Find(&certs).Error
	return certs, err
}
