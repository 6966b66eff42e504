package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DB      DBConfig
	Blob    BlobConfig
	MinIO   MinIOConfig
	Local   LocalConfig
	JWT     JWTConfig
	Server  ServerConfig
	Storage StorageConfig
	Audit   AuditConfig
}

type DBConfig struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres" validate:"oneof=postgres sqlite"`
	Host       string `env:"DB_HOST" envDefault:"localhost" validate:"required_if=Driver postgres"`
	Port       string `env:"DB_PORT" envDefault:"5432"`
	User       string `env:"DB_USER" envDefault:"drive"`
	Password   string `env:"DB_PASSWORD" envDefault:"drive_secret"`
	Name       string `env:"DB_NAME" envDefault:"drive"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"drive.db" validate:"required_if=Driver sqlite"`
}

type BlobConfig struct {
	Backend string `env:"BLOB_BACKEND" envDefault:"minio" validate:"oneof=minio local memory"`
}

type MinIOConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"drive"`
	SecretKey string `env:"MINIO_SECRET_KEY" envDefault:"drive_secret"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"drive" validate:"required"`
	Region    string `env:"MINIO_REGION"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type LocalConfig struct {
	Root string `env:"LOCAL_BLOB_ROOT" envDefault:"./data/blobs"`
}

type JWTConfig struct {
	Secret          string `env:"JWT_SECRET" envDefault:"change-me-in-production" validate:"required"`
	ExpirationHours int    `env:"JWT_EXPIRATION_HOURS" envDefault:"24" validate:"min=1"`
}

type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	BodyLimitMB     int           `env:"SERVER_BODY_LIMIT_MB" envDefault:"100" validate:"min=1"`
	AllowOrigins    []string      `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:3001,http://127.0.0.1:3001"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type StorageConfig struct {
	DefaultQuota int64  `env:"DEFAULT_QUOTA_BYTES" envDefault:"5368709120" validate:"min=0"`
	MaxTreeDepth int    `env:"MAX_TREE_DEPTH" envDefault:"1024" validate:"min=1"`
	TimeZone     string `env:"STORAGE_TIMEZONE" envDefault:"UTC"`
}

type AuditConfig struct {
	QueueSize      int           `env:"AUDIT_QUEUE_SIZE" envDefault:"1000" validate:"min=1"`
	ExportInterval time.Duration `env:"AUDIT_EXPORT_INTERVAL" envDefault:"0s" validate:"min=0"`
}

var validate = validator.New()

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return Parse(env.Options{})
}

// Parse builds a Config from the environment described by opts, applying
// defaults and validation. Tests pass opts.Environment to stay hermetic.
func Parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	sections := []interface{}{&c.DB, &c.Blob, &c.JWT, &c.Server, &c.Storage, &c.Audit}
	if c.Blob.Backend == "minio" {
		sections = append(sections, &c.MinIO)
	}
	for _, section := range sections {
		if err := validate.Struct(section); err != nil {
			return formatValidationError(err)
		}
	}
	if c.Blob.Backend == "local" && strings.TrimSpace(c.Local.Root) == "" {
		return fmt.Errorf("invalid config: LOCAL_BLOB_ROOT is required for the local blob backend")
	}
	if _, err := time.LoadLocation(c.Storage.TimeZone); err != nil {
		return fmt.Errorf("invalid config: STORAGE_TIMEZONE %q: %w", c.Storage.TimeZone, err)
	}
	return nil
}

// Location is the reference time zone for calendar-day queries.
func (s StorageConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	messages := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		messages = append(messages, fmt.Sprintf("%s failed %q (value %v)", fieldErr.Namespace(), fieldErr.Tag(), fieldErr.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}
