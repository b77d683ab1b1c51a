package certificates

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a migrated in-memory database. A single connection keeps
// every query on the same memory database.
func newTestDB(t *testing.T) (*gorm.DB, *sqlx.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db, sqlx.NewDb(sqlDB, "sqlite")
}

func seedTemplate(t *testing.T, db *gorm.DB, tmpl *CertTemplate) *CertTemplate {
	t.Helper()
	if tmpl.TemplateName == "" {
		tmpl.TemplateName = "Participation"
	}
	if tmpl.TargetType == "" {
		tmpl.TargetType = TargetGeneral
	}
	if tmpl.Status == "" {
		tmpl.Status = TemplateActive
	}
	if tmpl.Configuration == nil {
		tmpl.Configuration = []byte(janeDoeConfig)
	}
	require.NoError(t, db.Create(tmpl).Error)
	return tmpl
}
