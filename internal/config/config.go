package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Certificates CertificatesConfig `json:"certificates"`
	Storage      StorageConfig      `json:"storage"`
	Logging      LoggingConfig      `json:"logging"`
	Worker       WorkerConfig       `json:"worker"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     Duration `json:"read_timeout" split_words:"true"`
	WriteTimeout    Duration `json:"write_timeout" split_words:"true"`
	IdleTimeout     Duration `json:"idle_timeout" split_words:"true"`
	ShutdownTimeout Duration `json:"shutdown_timeout" split_words:"true"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver         string   `json:"driver"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name" envconfig:"DBNAME"`
	SSLMode        string   `json:"ssl_mode" envconfig:"SSLMODE"`
	SQLitePath     string   `json:"sqlite_path" envconfig:"SQLITE_PATH"`
	MaxConnections int      `json:"max_connections" split_words:"true"`
	MaxIdleConns   int      `json:"max_idle_conns" split_words:"true"`
	MaxLifetime    Duration `json:"max_lifetime" split_words:"true"`
	AutoMigrate    bool     `json:"auto_migrate" split_words:"true"`
}

// CertificatesConfig configures rendering and issuance
type CertificatesConfig struct {
	TemplateRoot       string   `json:"template_root" split_words:"true"`
	SerialPrefix       string   `json:"serial_prefix" split_words:"true"`
	StrayWord          string   `json:"stray_word" split_words:"true"`
	IssueDateLayout    string   `json:"issue_date_layout" split_words:"true"`
	Compress           bool     `json:"compress"`
	MaxConcurrent      int      `json:"max_concurrent" split_words:"true"`
	IssuanceAttempts   int      `json:"issuance_attempts" split_words:"true"`
	IssuanceBackoff    Duration `json:"issuance_backoff" split_words:"true"`
	UniqueCodeAttempts int      `json:"unique_code_attempts" split_words:"true"`
}

// StorageConfig selects where rendered documents are kept
type StorageConfig struct {
	// Driver is "local" or "s3"
	Driver          string `json:"driver"`
	LocalDir        string `json:"local_dir" split_words:"true"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"access_key_id" split_words:"true"`
	SecretAccessKey string `json:"secret_access_key" split_words:"true"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// WorkerConfig configures the failed-certificate sweeper
type WorkerConfig struct {
	SweepSpec    string   `json:"sweep_spec" split_words:"true"`
	BatchSize    int      `json:"batch_size" split_words:"true"`
	SweepTimeout Duration `json:"sweep_timeout" split_words:"true"`
}

// Duration reads "30s" style strings from both JSON and the environment
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		return d.Decode(value)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Decode implements envconfig.Decoder
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{60 * time.Second},
			IdleTimeout:     Duration{120 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "event_portal",
			SSLMode:        "disable",
			SQLitePath:     "portal.db",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration{30 * time.Minute},
		},
		Certificates: CertificatesConfig{
			TemplateRoot:       "templates",
			SerialPrefix:       "MT",
			StrayWord:          "contingent",
			IssueDateLayout:    "02/01/2006",
			Compress:           true,
			MaxConcurrent:      4,
			IssuanceAttempts:   5,
			IssuanceBackoff:    Duration{20 * time.Millisecond},
			UniqueCodeAttempts: 3,
		},
		Storage: StorageConfig{
			Driver:   "local",
			LocalDir: "storage",
			Region:   "ap-southeast-1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			SweepSpec:    "0 */5 * * * *",
			BatchSize:    50,
			SweepTimeout: Duration{2 * time.Minute},
		},
	}
}

// LoadConfig loads configuration from file, .env and environment variables.
// A missing config file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envconfig.Process("", config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that have no safe fallback
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewLogger builds the process logger
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
