package certificates

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormSerialStore struct {
	db *gorm.DB
}

// NewSerialStore returns a SerialStore that reserves sequences with a single
// upsert per transaction
func NewSerialStore(db *gorm.DB) SerialStore {
	return &gormSerialStore{db: db}
}

func (s *gormSerialStore) NextSequence(ctx context.Context, scope SerialScope, typeCode string) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		row := CertificateSerial{
			TemplateID:   scope.TemplateID,
			TargetType:   scope.TargetType,
			TypeCode:     typeCode,
			Year:         scope.Year,
			LastSequence: 1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "template_id"}, {Name: "target_type"}, {Name: "year"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_sequence": gorm.Expr("certificate_serials.last_sequence + 1"),
				"updated_at":    now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		return tx.Model(&CertificateSerial{}).
			Select("last_sequence").
			Where(map[string]interface{}{
				"template_id": scope.TemplateID,
				"target_type": scope.TargetType,
				"year":        scope.Year,
			}).
			Row().Scan(&seq)
	})
	if err != nil {
		if isTransient(err) {
			return 0, fmt.Errorf("%w: %v", ErrSerialConflict, err)
		}
		return 0, fmt.Errorf("reserve sequence for %s: %w", scope, err)
	}
	return seq, nil
}

// isTransient reports store errors that a retry can resolve: serialization
// failures, deadlocks, lock timeouts and SQLite busy states
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// isUniqueViolation recognizes unique index violations from either driver
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// SerialCounter is one row of the serial read model
type SerialCounter struct {
	TemplateID   uint       `db:"template_id" json:"template_id"`
	TargetType   TargetType `db:"target_type" json:"target_type"`
	TypeCode     string     `db:"type_code" json:"type_code"`
	Year         int        `db:"year" json:"year"`
	LastSequence int64      `db:"last_sequence" json:"last_sequence"`
}

type sqlxSerialReader struct {
	db *sqlx.DB
}

// NewSerialReader returns the sqlx-backed read side of the serial counters
func NewSerialReader(db *sqlx.DB) SerialReader {
	return &sqlxSerialReader{db: db}
}

func (r *sqlxSerialReader) CurrentSequence(ctx context.Context, scope SerialScope) (int64, error) {
	var seq int64
	query := r.db.Rebind(`
		SELECT last_sequence FROM certificate_serials
		WHERE template_id = ? AND target_type = ? AND year = ?`)
	err := r.db.GetContext(ctx, &seq, query, scope.TemplateID, string(scope.TargetType), scope.Year)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (r *sqlxSerialReader) ListTemplateSerials(ctx context.Context, templateID uint) ([]SerialCounter, error) {
	counters := []SerialCounter{}
	query := r.db.Rebind(`
		SELECT template_id, target_type, type_code, year, last_sequence
		FROM certificate_serials
		WHERE template_id = ?
		ORDER BY year DESC, target_type ASC`)
	err := r.db.SelectContext(ctx, &counters, query, templateID)
	return counters, err
}
