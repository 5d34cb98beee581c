package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the analytics
// subsystem. Values are primarily sourced from environment variables,
// with sensible defaults where appropriate.
type Config struct {
	DatabaseURL string

	// Retention windows, in days, per data kind. A value of 0 disables
	// cleanup for that kind.
	EventRetentionDays  int
	MetricRetentionDays int
	ErrorRetentionDays  int
	ReportRetentionDays int

	// ReportWorkers bounds how many report executions run concurrently.
	ReportWorkers int

	// Storage selects where report artifacts are written:
	// "filesystem" (default) or "s3".
	Storage     string
	ReportDir   string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		EventRetentionDays:  getenvInt("APP_EVENT_RETENTION_DAYS", 90),
		MetricRetentionDays: getenvInt("APP_METRIC_RETENTION_DAYS", 365),
		ErrorRetentionDays:  getenvInt("APP_ERROR_RETENTION_DAYS", 180),
		ReportRetentionDays: getenvInt("APP_REPORT_RETENTION_DAYS", 30),
		ReportWorkers:       getenvInt("APP_REPORT_WORKERS", 4),
		Storage:             getenv("APP_STORAGE", "filesystem"),
		ReportDir:           getenv("APP_REPORT_DIR", "./data/reports"),
		S3Endpoint:          os.Getenv("APP_S3_ENDPOINT"),
		S3AccessKey:         os.Getenv("APP_S3_ACCESS_KEY"),
		S3SecretKey:         os.Getenv("APP_S3_SECRET_KEY"),
		S3Bucket:            getenv("APP_S3_BUCKET", "pulse-reports"),
		S3UseSSL:            os.Getenv("APP_S3_USE_SSL") == "true",
	}

	if cfg.ReportWorkers <= 0 {
		cfg.ReportWorkers = 1
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
