package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"event-portal/portal-backend/internal/config"
)

// Handles shares one connection pool between gorm and sqlx
type Handles struct {
	Gorm *gorm.DB
	SQLX *sqlx.DB
}

func (h *Handles) Close() error {
	return h.SQLX.Close()
}

// Open connects to the configured database
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Handles, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch cfg.Driver {
	case "postgres":
		logger.Info("Connecting to database",
			zap.String("driver", cfg.Driver),
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("db_name", cfg.DBName))

		sx, err := sqlx.Connect("postgres", cfg.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		configurePool(sx, cfg)

		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sx.DB}), gormConfig)
		if err != nil {
			sx.Close()
			return nil, fmt.Errorf("open gorm on postgres: %w", err)
		}
		return &Handles{Gorm: db, SQLX: sx}, nil

	case "sqlite":
		logger.Info("Opening database", zap.String("driver", cfg.Driver), zap.String("path", cfg.SQLitePath))

		db, err := gorm.Open(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.SQLitePath, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
		return &Handles{Gorm: db, SQLX: sqlx.NewDb(sqlDB, "sqlite3")}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func configurePool(db *sqlx.DB, cfg config.DatabaseConfig) {
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime.Duration)
	}
}
