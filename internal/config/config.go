package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"nfcom/internal/logger"
	"nfcom/pkg/models"
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Runtime
	AppEnv string

	// Database
	DatabaseDSN string
	DBDebug     bool
	Migrations  bool

	// Authority
	Environment      int // models.EnvironmentProduction or models.EnvironmentHomologation
	AuthorizationURL string
	StatusURL        string
	SefazTimeout     time.Duration

	// Certificates
	CertEncryptionKey string
	CertCacheTTL      time.Duration
	CertBucket        string
	CertPrefix        string

	// Emission
	BatchSize      int
	Workers        int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Notification
	NotifyWorkers int
	RabbitMQURL   string
	NotifyQueue   string

	// Events and archive
	KafkaBroker   string
	KafkaTopic    string
	AWSRegion     string
	ArchiveBucket string
	ArchivePrefix string

	// Receivables
	RemittanceDir string

	// Google Sheets run report
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// API
	APIAddr string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	var perr parseErrors
	config := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		DatabaseDSN:          getEnv("DATABASE_DSN", ""),
		DBDebug:              perr.bool("DB_DEBUG", false),
		Migrations:           perr.bool("MIGRATIONS", false),
		Environment:          perr.environment("NFCOM_ENVIRONMENT", "homologation"),
		AuthorizationURL:     getEnv("SEFAZ_AUTHORIZATION_URL", ""),
		StatusURL:            getEnv("SEFAZ_STATUS_URL", ""),
		SefazTimeout:         perr.duration("SEFAZ_TIMEOUT", 30*time.Second),
		CertEncryptionKey:    getEnv("CERT_ENCRYPTION_KEY", ""),
		CertCacheTTL:         perr.duration("CERT_CACHE_TTL", 10*time.Minute),
		CertBucket:           getEnv("CERT_BUCKET", ""),
		CertPrefix:           getEnv("CERT_PREFIX", "certificates/"),
		BatchSize:            perr.int("EMISSION_BATCH_SIZE", 500),
		Workers:              perr.int("EMISSION_WORKERS", 4),
		MaxAttempts:          perr.int("TRANSMIT_MAX_ATTEMPTS", 3),
		InitialBackoff:       perr.duration("TRANSMIT_BACKOFF_INITIAL", 2*time.Second),
		MaxBackoff:           perr.duration("TRANSMIT_BACKOFF_MAX", 30*time.Second),
		NotifyWorkers:        perr.int("NOTIFY_WORKERS", 4),
		RabbitMQURL:          getEnv("RABBITMQ_URL", ""),
		NotifyQueue:          getEnv("NOTIFY_QUEUE", "nfcom.notifications"),
		KafkaBroker:          getEnv("KAFKA_BROKER", ""),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "nfcom.documents"),
		AWSRegion:            getEnv("AWS_REGION", "sa-east-1"),
		ArchiveBucket:        getEnv("ARCHIVE_BUCKET", ""),
		ArchivePrefix:        getEnv("ARCHIVE_PREFIX", ""),
		RemittanceDir:        getEnv("REMITTANCE_DIR", "remessas"),
		GoogleSheetURL:       getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet: getEnv("GOOGLE_SHEET_WORKSHEET", "Emissoes"),
		APIAddr:              getEnv("API_ADDR", ":8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:        getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:            getEnv("LOG_OUTPUT", "stdout"),
	}
	if err := perr.err(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("%w: DATABASE_DSN is required", ErrInvalid)
	}
	if c.CertEncryptionKey == "" {
		return fmt.Errorf("%w: CERT_ENCRYPTION_KEY is required", ErrInvalid)
	}
	if c.Workers < 1 || c.NotifyWorkers < 1 {
		return fmt.Errorf("%w: EMISSION_WORKERS and NOTIFY_WORKERS must be at least 1", ErrInvalid)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: TRANSMIT_MAX_ATTEMPTS must be at least 1", ErrInvalid)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: TRANSMIT_BACKOFF_MAX must not be below TRANSMIT_BACKOFF_INITIAL", ErrInvalid)
	}
	if c.SefazTimeout <= 0 {
		return fmt.Errorf("%w: SEFAZ_TIMEOUT must be positive", ErrInvalid)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: EMISSION_BATCH_SIZE must not be negative", ErrInvalid)
	}
	if c.IsProduction() && c.Environment != models.EnvironmentProduction {
		// production deployments that emit test documents are a misconfiguration
		return fmt.Errorf("%w: APP_ENV=production requires NFCOM_ENVIRONMENT=production", ErrInvalid)
	}
	return nil
}

// IsProduction reports whether the process runs in the production deployment.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseErrors collects malformed variables so Load reports all of them.
type parseErrors []string

func (p *parseErrors) int(key string, def int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func (p *parseErrors) bool(key string, def bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func (p *parseErrors) duration(key string, def time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p = append(*p, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}

func (p *parseErrors) environment(key, def string) int {
	raw := strings.ToLower(getEnv(key, def))
	switch raw {
	case "production", "producao", "1":
		return models.EnvironmentProduction
	case "homologation", "homologacao", "2":
		return models.EnvironmentHomologation
	}
	*p = append(*p, fmt.Sprintf("%s: %q is neither production nor homologation", key, raw))
	return 0
}

func (p parseErrors) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(p, "; "))
}
