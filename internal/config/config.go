// Package config centralizes how ClockSheet reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Queue modes select where report generation runs.
const (
	QueueInProcess = "inprocess"
	QueueAsynq     = "asynq"
)

// Config represents runtime configuration for the service.
type Config struct {
	Address     string
	Environment string
	LogLevel    string

	// HR API access.
	SesameToken       string
	SesameRegion      string
	SesameBaseURL     string
	APIConnectTimeout time.Duration
	APIReadTimeout    time.Duration
	APIMaxRetries     int
	APIBackoff        time.Duration
	APIPageSize       int
	APIPoolSize       int
	APIRateLimit      float64
	APIRateBurst      int
	BreakerFailures   int

	// Report generation.
	ReportsDir        string
	MaxReports        int
	MaxPages          int
	ChunkSize         int
	FetchWorkers      int
	RecordThreshold   int
	PageThreshold     int
	GenerationTimeout time.Duration
	GenerationWorkers int
	QueueMode         string

	// Job housekeeping.
	OrphanTimeout        time.Duration
	JobRetention         time.Duration
	LongRunningThreshold time.Duration
	CleanupSchedule      string
	CancelPollInterval   time.Duration

	SigningSecret []byte
	SignedURLTTL  time.Duration

	// Optional infrastructure. Empty values disable the backend.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool
	ReportsBucket string
}

const (
	defaultAddress           = ":8080"
	defaultEnvironment       = "development"
	defaultLogLevel          = "info"
	defaultRegion            = "eu1"
	defaultConnectTimeout    = 5 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultMaxRetries        = 3
	defaultBackoff           = 300 * time.Millisecond
	defaultPageSize          = 500
	defaultPoolSize          = 10
	defaultBreakerFailures   = 5
	defaultReportsDir        = "temp_reports"
	defaultMaxReports        = 10
	defaultMaxPages          = 100
	defaultChunkSize         = 1000
	defaultFetchWorkers      = 5
	defaultRecordThreshold   = 1000
	defaultPageThreshold     = 5
	defaultGenerationTimeout = 10 * time.Minute
	defaultWorkerCount       = 2
	defaultOrphanTimeout     = 30 * time.Minute
	defaultJobRetention      = 7 * 24 * time.Hour
	defaultLongRunning       = 10 * time.Minute
	defaultCleanupSchedule   = "*/10 * * * *"
	defaultCancelPoll        = 2 * time.Second
	defaultSignedTTL         = 5 * time.Minute
	defaultReportsBucket     = "clocksheet-reports"
)

// Load reads configuration from the environment and an optional .env file,
// falling back to defaults. The HR API token and the session secret are
// required.
func Load() (*Config, error) {
	// Existing environment variables win over .env entries.
	_ = godotenv.Load()

	cfg := &Config{
		Address:     readEnv("CLOCKSHEET_ADDRESS", defaultAddress),
		Environment: strings.ToLower(readEnv("CLOCKSHEET_ENV", defaultEnvironment)),
		LogLevel:    strings.ToLower(readEnv("CLOCKSHEET_LOG_LEVEL", defaultLogLevel)),

		SesameToken:       readEnv("SESAME_TOKEN", ""),
		SesameRegion:      readEnv("SESAME_REGION", defaultRegion),
		SesameBaseURL:     readEnv("SESAME_BASE_URL", ""),
		APIConnectTimeout: parseDuration("SESAME_CONNECT_TIMEOUT", defaultConnectTimeout),
		APIReadTimeout:    parseDuration("SESAME_READ_TIMEOUT", defaultReadTimeout),
		APIMaxRetries:     parseInt("SESAME_MAX_RETRIES", defaultMaxRetries),
		APIBackoff:        parseDuration("SESAME_BACKOFF", defaultBackoff),
		APIPageSize:       parseInt("SESAME_PAGE_SIZE", defaultPageSize),
		APIPoolSize:       parseInt("SESAME_POOL_SIZE", defaultPoolSize),
		APIRateLimit:      parseFloat("SESAME_RATE_LIMIT", 0),
		APIRateBurst:      parseInt("SESAME_RATE_BURST", 1),
		BreakerFailures:   parseInt("SESAME_BREAKER_FAILURES", defaultBreakerFailures),

		ReportsDir:        readEnv("CLOCKSHEET_REPORTS_DIR", defaultReportsDir),
		MaxReports:        parseInt("CLOCKSHEET_MAX_REPORTS", defaultMaxReports),
		MaxPages:          parseInt("CLOCKSHEET_MAX_PAGES", defaultMaxPages),
		ChunkSize:         parseInt("CLOCKSHEET_CHUNK_SIZE", defaultChunkSize),
		FetchWorkers:      parseInt("CLOCKSHEET_FETCH_WORKERS", defaultFetchWorkers),
		RecordThreshold:   parseInt("CLOCKSHEET_RECORD_THRESHOLD", defaultRecordThreshold),
		PageThreshold:     parseInt("CLOCKSHEET_PAGE_THRESHOLD", defaultPageThreshold),
		GenerationTimeout: parseDuration("CLOCKSHEET_GENERATION_TIMEOUT", defaultGenerationTimeout),
		GenerationWorkers: parseInt("CLOCKSHEET_WORKERS", defaultWorkerCount),
		QueueMode:         strings.ToLower(readEnv("CLOCKSHEET_QUEUE_MODE", QueueInProcess)),

		OrphanTimeout:        parseDuration("CLOCKSHEET_ORPHAN_TIMEOUT", defaultOrphanTimeout),
		JobRetention:         parseDuration("CLOCKSHEET_JOB_RETENTION", defaultJobRetention),
		LongRunningThreshold: parseDuration("CLOCKSHEET_LONG_RUNNING", defaultLongRunning),
		CleanupSchedule:      readEnv("CLOCKSHEET_CLEANUP_SCHEDULE", defaultCleanupSchedule),
		CancelPollInterval:   parseDuration("CLOCKSHEET_CANCEL_POLL", defaultCancelPoll),

		SigningSecret: parseSecret("SESSION_SECRET"),
		SignedURLTTL:  parseDuration("CLOCKSHEET_SIGNED_TTL", defaultSignedTTL),

		DatabaseURL:   readEnv("DATABASE_URL", ""),
		RedisAddr:     readEnv("REDIS_ADDR", ""),
		RedisPassword: readEnv("REDIS_PASSWORD", ""),
		RedisDB:       parseInt("REDIS_DB", 0),
		S3Endpoint:    readEnv("S3_ENDPOINT", ""),
		S3AccessKey:   readEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   readEnv("S3_SECRET_KEY", ""),
		S3Region:      readEnv("S3_REGION", "us-east-1"),
		S3UseSSL:      parseBool("S3_USE_SSL", false),
		ReportsBucket: readEnv("S3_REPORTS_BUCKET", defaultReportsBucket),
	}
	if cfg.SesameToken == "" {
		return nil, fmt.Errorf("SESAME_TOKEN is not set")
	}
	if cfg.SigningSecret == nil {
		return nil, fmt.Errorf("SESSION_SECRET is not set")
	}
	if cfg.QueueMode != QueueInProcess && cfg.QueueMode != QueueAsynq {
		return nil, fmt.Errorf("invalid CLOCKSHEET_QUEUE_MODE %q", cfg.QueueMode)
	}
	if cfg.QueueMode == QueueAsynq && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required when CLOCKSHEET_QUEUE_MODE=asynq")
	}
	if cfg.QueueMode == QueueAsynq && cfg.DatabaseURL == "" {
		// API and worker processes must share the job store.
		return nil, fmt.Errorf("DATABASE_URL is required when CLOCKSHEET_QUEUE_MODE=asynq")
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors replaces non-positive numeric settings with their defaults and
// clamps the fetch pool to the supported range.
func (c *Config) applyFloors() {
	if c.APIPageSize <= 0 {
		c.APIPageSize = defaultPageSize
	}
	if c.APIPoolSize <= 0 {
		c.APIPoolSize = defaultPoolSize
	}
	if c.APIMaxRetries < 0 {
		c.APIMaxRetries = defaultMaxRetries
	}
	if c.MaxReports <= 0 {
		c.MaxReports = defaultMaxReports
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.FetchWorkers < 5 {
		c.FetchWorkers = 5
	}
	if c.FetchWorkers > 20 {
		c.FetchWorkers = 20
	}
	if c.GenerationWorkers <= 0 {
		c.GenerationWorkers = defaultWorkerCount
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = defaultSignedTTL
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = defaultCancelPoll
	}
}

// BaseURL returns the region scoped HR API root unless overridden.
func (c *Config) BaseURL() string {
	if c.SesameBaseURL != "" {
		return strings.TrimRight(c.SesameBaseURL, "/")
	}
	return fmt.Sprintf("https://api-%s.sesametime.com", c.SesameRegion)
}

// ArchiveEnabled reports whether completed reports are mirrored to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Endpoint != ""
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}
