package certificates

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultSerialPrefix     = "MT"
	DefaultIssuanceAttempts = 5

	uniqueCodePrefix  = "CERT"
	uniqueCodeRandLen = 8
	sequenceDigits    = 6
)

var typeCodes = map[TargetType]string{
	TargetGeneral:               "GEN",
	TargetEventParticipant:      "PART",
	TargetEventWinner:           "WIN",
	TargetNonContestParticipant: "NCP",
	TargetQuizParticipant:       "QPART",
	TargetQuizWinner:            "QWIN",
}

// TypeCode returns the serial type code for a target type
func TypeCode(target TargetType) (string, error) {
	code, ok := typeCodes[target]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTargetType, target)
	}
	return code, nil
}

func targetForCode(code string) (TargetType, bool) {
	for t, c := range typeCodes {
		if c == code {
			return t, true
		}
	}
	return "", false
}

// SerialScope is the unit within which serial sequences are counted
type SerialScope struct {
	TemplateID uint       `json:"template_id"`
	TargetType TargetType `json:"target_type"`
	Year       int        `json:"year"`
}

func (s SerialScope) String() string {
	return fmt.Sprintf("template %d/%s/%d", s.TemplateID, s.TargetType, s.Year)
}

// SerialStore reserves sequence numbers. Implementations must make each
// reservation atomic across processes and return ErrSerialConflict for
// transient conflicts.
type SerialStore interface {
	NextSequence(ctx context.Context, scope SerialScope, typeCode string) (int64, error)
}

// SerialReader is the read side of the serial counters
type SerialReader interface {
	CurrentSequence(ctx context.Context, scope SerialScope) (int64, error)
	ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error)
}

// ParsedSerial is a serial number split into its parts
type ParsedSerial struct {
	Prefix     string     `json:"prefix"`
	Year       int        `json:"year"`
	TypeCode   string     `json:"type_code"`
	TargetType TargetType `json:"target_type"`
	TemplateID uint       `json:"template_id"`
	Sequence   int64      `json:"sequence"`
}

type SerialOptions struct {
	Prefix         string
	MaxAttempts    int
	InitialBackoff time.Duration
	Now            func() time.Time
}

// SerialService issues unique codes and serial numbers
type SerialService struct {
	store          SerialStore
	reader         SerialReader
	prefix         string
	pattern        *regexp.Regexp
	maxAttempts    int
	initialBackoff time.Duration
	now            func() time.Time
	logger         *zap.Logger
	metrics        *Metrics
}

func NewSerialService(store SerialStore, reader SerialReader, opts SerialOptions, logger *zap.Logger, metrics *Metrics) *SerialService {
	if opts.Prefix == "" {
		opts.Prefix = DefaultSerialPrefix
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultIssuanceAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 20 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialService{
		store:          store,
		reader:         reader,
		prefix:         opts.Prefix,
		pattern:        serialPattern(opts.Prefix),
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		now:            opts.Now,
		logger:         logger,
		metrics:        metrics,
	}
}

func serialPattern(prefix string) *regexp.Regexp {
	codes := make([]string, 0, len(typeCodes))
	for _, c := range typeCodes {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return regexp.MustCompile(`^(` + regexp.QuoteMeta(prefix) + `)(\d{2})/(` + strings.Join(codes, "|") + `)/T(\d+)/(\d{6,})$`)
}

// IssueUniqueCode returns CERT-<unix millis>-<8 random base36 characters>
func (s *SerialService) IssueUniqueCode() string {
	return fmt.Sprintf("%s-%d-%s", uniqueCodePrefix, s.now().UnixMilli(), randomBase36(uniqueCodeRandLen))
}

func randomBase36(n int) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	var space uint64 = 1
	for i := 0; i < n; i++ {
		space *= 36
	}
	s := strconv.FormatUint(binary.BigEndian.Uint64(buf[:])%space, 36)
	return strings.ToUpper(strings.Repeat("0", n-len(s)) + s)
}

// IssueSerialNumber reserves the next sequence for the scope and formats it.
// Year 0 means the current year.
func (s *SerialService) IssueSerialNumber(ctx context.Context, templateID uint, target TargetType, year int) (string, error) {
	code, err := TypeCode(target)
	if err != nil {
		return "", err
	}
	if year <= 0 {
		year = s.now().Year()
	}
	scope := SerialScope{TemplateID: templateID, TargetType: target, Year: year}

	var (
		seq      int64
		attempts int
	)
	op := func() error {
		attempts++
		n, err := s.store.NextSequence(ctx, scope, code)
		if err == nil {
			seq = n
			return nil
		}
		if errors.Is(err, ErrSerialConflict) {
			s.metrics.serialRetried()
			s.logger.Debug("Serial reservation conflict",
				zap.Stringer("scope", scope),
				zap.Int("attempt", attempts),
				zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.MaxInterval = 40 * s.initialBackoff
	bo.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		s.logger.Error("Serial issuance failed",
			zap.Stringer("scope", scope),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return "", &IssuanceError{Scope: scope, Attempts: attempts, Err: err}
	}

	s.metrics.serialIssued(target)
	return FormatSerialNumber(s.prefix, scope, code, seq), nil
}

// FormatSerialNumber renders <prefix><YY>/<code>/T<template>/<sequence>
func FormatSerialNumber(prefix string, scope SerialScope, typeCode string, seq int64) string {
	return fmt.Sprintf("%s%02d/%s/T%d/%0*d", prefix, scope.Year%100, typeCode, scope.TemplateID, sequenceDigits, seq)
}

// ValidateSerialNumber reports whether serial is well-formed for this prefix
func (s *SerialService) ValidateSerialNumber(serial string) bool {
	return s.pattern.MatchString(serial)
}

// ParseSerialNumber splits a serial number. The two-digit year is read as
// 20YY.
func (s *SerialService) ParseSerialNumber(serial string) (*ParsedSerial, error) {
	m := s.pattern.FindStringSubmatch(strings.TrimSpace(serial))
	if m == nil {
		return nil, fmt.Errorf("%w: malformed serial number %q", ErrInvalidRequest, serial)
	}
	yy, _ := strconv.Atoi(m[2])
	templateID, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: template id in %q: %v", ErrInvalidRequest, serial, err)
	}
	seq, _ := strconv.ParseInt(m[5], 10, 64)
	target, _ := targetForCode(m[3])

	return &ParsedSerial{
		Prefix:     m[1],
		Year:       2000 + yy,
		TypeCode:   m[3],
		TargetType: target,
		TemplateID: uint(templateID),
		Sequence:   seq,
	}, nil
}

// PreviewNextSerialNumber returns the serial the next issuance would get
// without reserving it
func (s *SerialService) PreviewNextSerialNumber(ctx context.Context, templateID uint, target TargetType, year int) (string, error) {
	code, err := TypeCode(target)
	if err != nil {
		return "", err
	}
	if year <= 0 {
		year = s.now().Year()
	}
	scope := SerialScope{TemplateID: templateID, TargetType: target, Year: year}
	current, err := s.reader.CurrentSequence(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("read sequence for %s: %w", scope, err)
	}
	return FormatSerialNumber(s.prefix, scope, code, current+1), nil
}

// CurrentSequence returns the last issued sequence, 0 when none
func (s *SerialService) CurrentSequence(ctx context.Context, scope SerialScope) (int64, error) {
	return s.reader.CurrentSequence(ctx, scope)
}

func (s *SerialService) ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error) {
	return s.reader.ListTemplateSerials(ctx, templateID)
}
