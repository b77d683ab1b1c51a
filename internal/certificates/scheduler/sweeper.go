package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"event-portal/portal-backend/internal/certificates"
)

// FailedCertificates lists certificates waiting for another attempt
type FailedCertificates interface {
	ListByStatus(ctx context.Context, status certificates.CertificateStatus, limit int) ([]certificates.Certificate, error)
}

// Regenerator re-runs the lifecycle for a stored certificate
type Regenerator interface {
	Regenerate(ctx context.Context, id uuid.UUID) (*certificates.Outcome, error)
}

// SweeperConfig configures the failed-certificate sweeper
type SweeperConfig struct {
	// Spec is a six-field cron expression (with seconds)
	Spec      string        `json:"spec"`
	BatchSize int           `json:"batch_size"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Spec:      "0 */5 * * * *",
		BatchSize: 50,
		Timeout:   2 * time.Minute,
	}
}

// SweepResult counts the outcome of one sweep
type SweepResult struct {
	Attempted int
	Recovered int
	Failed    int
}

// Sweeper periodically regenerates FAILED certificates
type Sweeper struct {
	cron    *cron.Cron
	entry   cron.EntryID
	source  FailedCertificates
	regen   Regenerator
	logger  *zap.Logger
	config  SweeperConfig
	mu      sync.Mutex
	running bool
	sweepMu sync.Mutex
}

func NewSweeper(source FailedCertificates, regen Regenerator, logger *zap.Logger, config SweeperConfig) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Spec == "" {
		config.Spec = defaults.Spec
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		source: source,
		regen:  regen,
		logger: logger,
		config: config,
	}
}

// Start schedules the sweep. The job stops picking up work once ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	entry, err := s.cron.AddFunc(s.config.Spec, func() {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
		s.Sweep(runCtx)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.config.Spec, err)
	}
	s.entry = entry
	s.running = true

	s.logger.Info("Starting failed certificate sweeper",
		zap.String("spec", s.config.Spec),
		zap.Int("batch_size", s.config.BatchSize))
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	s.logger.Info("Stopping failed certificate sweeper")
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	s.running = false
}

// Next returns the next scheduled sweep, zero when not running
func (s *Sweeper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Sweep regenerates one batch of failed certificates
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	var result SweepResult
	failed, err := s.source.ListByStatus(ctx, certificates.StatusFailed, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Failed to list failed certificates", zap.Error(err))
		return result
	}

	for _, cert := range failed {
		if ctx.Err() != nil {
			break
		}
		result.Attempted++
		if _, err := s.regen.Regenerate(ctx, cert.ID); err != nil {
			result.Failed++
			s.logger.Warn("Certificate still failing",
				zap.String("certificate_id", cert.ID.String()),
				zap.Error(err))
			continue
		}
		result.Recovered++
	}

	if result.Attempted > 0 {
		s.logger.Info("Failed certificate sweep completed",
			zap.Int("attempted", result.Attempted),
			zap.Int("recovered", result.Recovered),
			zap.Int("failed", result.Failed))
	}
	return result
}
