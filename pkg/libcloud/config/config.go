package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/libcloud/pkg/libcloud"
	"github.com/tendant/libcloud/pkg/libcloud/logging"
	"github.com/tendant/libcloud/pkg/libcloud/repo/memory"
	repopg "github.com/tendant/libcloud/pkg/libcloud/repo/postgres"
	fsstorage "github.com/tendant/libcloud/pkg/libcloud/storage/fs"
	memorystorage "github.com/tendant/libcloud/pkg/libcloud/storage/memory"
	s3storage "github.com/tendant/libcloud/pkg/libcloud/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:           "8080",
		Environment:    "development",
		DatabaseURL:    "memory",
		StorageURL:     "memory://",
		SessionTTL:     14 * 24 * time.Hour,
		MaxUploadBytes: 32 << 20,
		LogLevel:       "info",
		AutoMigrate:    true,
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// ServerConfig represents configuration for the libcloud server and CLI.
// Fields without an environment variable keep their current value.
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"` // development, production, testing

	// Database configuration
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"` // "memory" or postgres://...
	DBSchema    string `yaml:"db_schema" env:"DB_SCHEMA"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`

	// Storage configuration: memory://, file:///path or s3://bucket
	StorageURL string   `yaml:"storage_url" env:"STORAGE_URL"`
	S3         S3Config `yaml:"s3"`

	// Web options
	SessionSecret  string        `yaml:"session_secret" env:"SESSION_SECRET"`
	SessionTTL     time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	LogLevel       string        `yaml:"log_level" env:"LOG_LEVEL"`

	// PasswordCost overrides the bcrypt cost; zero keeps the default
	PasswordCost int `yaml:"password_cost" env:"PASSWORD_COST"`
}

// S3Config carries the options of an s3:// storage URL
type S3Config struct {
	Region          string `yaml:"region" env:"AWS_REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"S3_USE_PATH_STYLE"`
	Prefix          string `yaml:"prefix" env:"S3_PREFIX"`
	CreateBucket    bool   `yaml:"create_bucket" env:"S3_CREATE_BUCKET"`
}

// WithEnv applies environment variable overrides.
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithFile reads a YAML, JSON or TOML file. Environment variables still
// override values from the file.
func WithFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		return nil
	}
}

// Storage kinds understood by StorageURL
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageS3     = "s3"
)

// DatabaseType reports "memory" or "postgres".
func (c *ServerConfig) DatabaseType() string {
	if c.DatabaseURL == "" || c.DatabaseURL == "memory" {
		return "memory"
	}
	return "postgres"
}

// Storage splits StorageURL into its kind and target (directory or bucket).
func (c *ServerConfig) Storage() (kind, target string, err error) {
	raw := strings.TrimSpace(c.StorageURL)
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageMemory, "", nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid STORAGE_URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case StorageFile:
		dir := u.Host + u.Path
		if dir == "" {
			return "", "", errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageFile, dir, nil
	case StorageS3:
		if u.Host == "" {
			return "", "", errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		return StorageS3, u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be development, production or testing, got %q", c.Environment)
	}

	if c.DatabaseType() == "postgres" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}

	if _, _, err := c.Storage(); err != nil {
		return err
	}

	if c.Environment == "production" && len(c.SessionSecret) < 32 {
		return errors.New("session_secret of at least 32 bytes is required in production")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max_upload_bytes must be positive")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// logWriter is where Logger writes
var logWriter io.Writer = os.Stderr

// Logger builds the process logger from Environment and LogLevel.
func (c *ServerConfig) Logger() *slog.Logger {
	level, _ := logging.ParseLevel(c.LogLevel)
	return logging.New(logWriter, c.Environment, level)
}

// OpenPool connects to DatabaseURL, pinning search_path to DBSchema when set.
func (c *ServerConfig) OpenPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.DatabaseType() != "postgres" {
		return nil, errors.New("a postgres DATABASE_URL is required")
	}

	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// BuildRepository creates a Repository based on the configuration. The
// returned close function releases the database pool, if any.
func (c *ServerConfig) BuildRepository(ctx context.Context, logger *slog.Logger) (libcloud.Repository, func(), error) {
	if c.DatabaseType() == "memory" {
		return memory.New(), func() {}, nil
	}

	pool, err := c.OpenPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	if c.AutoMigrate {
		logger.InfoContext(ctx, "applying database migrations", "schema", c.DBSchema)
		if err := repopg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return repopg.NewWithPool(pool), pool.Close, nil
}

// BuildBlobStore creates the BlobStore named by StorageURL
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (libcloud.BlobStore, error) {
	kind, target, err := c.Storage()
	if err != nil {
		return nil, err
	}

	switch kind {
	case StorageFile:
		return fsstorage.New(fsstorage.Config{BaseDir: target})
	case StorageS3:
		s3cfg := s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 target,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			Prefix:                 c.S3.Prefix,
			CreateBucketIfNotExist: c.S3.CreateBucket,
		}
		// s3://bucket?region=...&endpoint=... overrides the S3 section
		if u, err := url.Parse(c.StorageURL); err == nil {
			q := u.Query()
			if v := q.Get("region"); v != "" {
				s3cfg.Region = v
			}
			if v := q.Get("endpoint"); v != "" {
				s3cfg.Endpoint = v
				s3cfg.UsePathStyle = true
			}
		}
		return s3storage.New(ctx, s3cfg)
	default:
		return memorystorage.New(), nil
	}
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (libcloud.Service, func(), error) {
	repo, closeRepo, err := c.BuildRepository(ctx, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.BuildBlobStore(ctx)
	if err != nil {
		closeRepo()
		return nil, nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	options := []libcloud.Option{
		libcloud.WithRepository(repo),
		libcloud.WithBlobStore(store),
		libcloud.WithLogger(logger),
		libcloud.WithEventSink(libcloud.NewLogEventSink(logger)),
	}
	if c.PasswordCost > 0 {
		options = append(options, libcloud.WithPasswordCost(c.PasswordCost))
	}

	svc, err := libcloud.New(options...)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	return svc, closeRepo, nil
}
