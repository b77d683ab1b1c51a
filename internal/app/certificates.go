package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/certificates"
	"event-portal/portal-backend/internal/config"
	"event-portal/portal-backend/internal/database"
	"event-portal/portal-backend/pkg/storage"
)

// Certificates bundles the wired certificate components
type Certificates struct {
	Repository certificates.Repository
	Serials    *certificates.SerialService
	Compositor *certificates.Compositor
	Manager    *certificates.Manager
	Service    certificates.Service
	Handler    *certificates.Handler
	Metrics    *certificates.Metrics
}

// NewDocumentStore returns the configured document store
func NewDocumentStore(ctx context.Context, cfg config.StorageConfig) (storage.DocumentStore, error) {
	switch cfg.Driver {
	case "", "local":
		return storage.NewLocalStore(cfg.LocalDir)
	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			Prefix:          cfg.Prefix,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return storage.NewS3Store(client, cfg.Bucket, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewCompositor builds the renderer alone, for offline use
func NewCompositor(cfg config.CertificatesConfig, logger *zap.Logger, metrics *certificates.Metrics) *certificates.Compositor {
	resolver := certificates.NewResolver(certificates.ResolverOptions{
		StrayWord:  cfg.StrayWord,
		DateLayout: cfg.IssueDateLayout,
	})
	return certificates.NewCompositor(resolver, certificates.CompositorOptions{
		TemplateRoot: cfg.TemplateRoot,
		Compress:     cfg.Compress,
	}, logger, metrics)
}

// NewSerialService builds serial issuance on top of the database handles
func NewSerialService(cfg config.CertificatesConfig, db *database.Handles, logger *zap.Logger, metrics *certificates.Metrics) *certificates.SerialService {
	return certificates.NewSerialService(
		certificates.NewSerialStore(db.Gorm),
		certificates.NewSerialReader(db.SQLX),
		certificates.SerialOptions{
			Prefix:         cfg.SerialPrefix,
			MaxAttempts:    cfg.IssuanceAttempts,
			InitialBackoff: cfg.IssuanceBackoff.Duration,
		},
		logger, metrics)
}

// NewCertificates wires the certificate module. Metrics are registered on
// reg when it is non-nil.
func NewCertificates(ctx context.Context, cfg *config.Config, db *database.Handles, reg prometheus.Registerer, logger *zap.Logger) (*Certificates, error) {
	if cfg.Database.AutoMigrate {
		if err := certificates.Migrate(db.Gorm); err != nil {
			return nil, fmt.Errorf("migrate certificate tables: %w", err)
		}
	}

	store, err := NewDocumentStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	metrics := certificates.NewMetrics(reg)
	repo := certificates.NewRepository(db.Gorm)
	serials := NewSerialService(cfg.Certificates, db, logger, metrics)
	compositor := NewCompositor(cfg.Certificates, logger, metrics)
	manager := certificates.NewManager(repo, serials, compositor, store, logger, metrics, certificates.ManagerOptions{
		UniqueCodeAttempts: cfg.Certificates.UniqueCodeAttempts,
		MaxConcurrent:      cfg.Certificates.MaxConcurrent,
	})
	service := certificates.NewService(repo, manager, serials, store, logger)

	return &Certificates{
		Repository: repo,
		Serials:    serials,
		Compositor: compositor,
		Manager:    manager,
		Service:    service,
		Handler:    certificates.NewHandler(service),
		Metrics:    metrics,
	}, nil
}
