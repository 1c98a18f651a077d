package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port               int                `json:"port"`
	JWTSecret          string             `json:"jwt_secret"`
	LogConfig          logger.LogConfig   `json:"log_config"`
	Store              StoreConfig        `json:"store"`
	Retry              RetryConfig        `json:"retry"`
	OperationTimeoutMs int64              `json:"operation_timeout_ms"`
	ContentCache       ContentCacheConfig `json:"content_cache"`
	Share              ShareConfig        `json:"share"`
	Schedule           ScheduleConfig     `json:"schedule"`
	CORSAllowlist      []string           `json:"cors_allowlist"`
	EnableMetrics      bool               `json:"enable_metrics"`
}

type StoreConfig struct {
	Type         string         `json:"type"`
	MaxBatchSize int            `json:"max_batch_size"`
	Database     DatabaseConfig `json:"database"`
	Badger       BadgerConfig   `json:"badger"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// ConnString returns the DSN, building it from the discrete fields when unset.
func (c DatabaseConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

type BadgerConfig struct {
	Path       string `json:"path"`
	InMemory   bool   `json:"in_memory"`
	SyncWrites bool   `json:"sync_writes"`
}

type RetryConfig struct {
	MaxAttempts      int   `json:"max_attempts"`
	InitialBackoffMs int64 `json:"initial_backoff_ms"`
	MaxBackoffMs     int64 `json:"max_backoff_ms"`
}

type ContentCacheConfig struct {
	Size       int   `json:"size"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

type ShareConfig struct {
	TokenBytes         int `json:"token_bytes"`
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateLimitBurst     int `json:"rate_limit_burst"`
}

type ScheduleConfig struct {
	TokenSweepSpec        string `json:"token_sweep_spec"`
	TokenSweepBatch       int    `json:"token_sweep_batch"`
	LegacyMigrationSpec   string `json:"legacy_migration_spec"`
	LegacyMigrationBatch  int    `json:"legacy_migration_batch"`
	EnableLegacyMigration bool   `json:"enable_legacy_migration"`
}

const (
	StoreTypePostgres = "postgres"
	StoreTypeBadger   = "badger"

	DefaultMaxBatchSize = 500
	// MaxPostgresBatchSize keeps one chunk upsert (5 parameters per row) under
	// the postgres limit of 65535 bind parameters.
	MaxPostgresBatchSize = 65535 / 5
	minTokenBytes        = 16
)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreTypePostgres
	}
	switch cfg.Store.Type {
	case StoreTypePostgres:
		db := cfg.Store.Database
		if db.DSN == "" && (db.Host == "" || db.DBName == "") {
			return fmt.Errorf("store.database dsn or host/db_name are required for postgres store")
		}
		if db.DSN == "" && db.Port == 0 {
			cfg.Store.Database.Port = 5432
		}
	case StoreTypeBadger:
		if !cfg.Store.Badger.InMemory && cfg.Store.Badger.Path == "" {
			return fmt.Errorf("store.badger.path is required unless in_memory is set")
		}
	default:
		return fmt.Errorf("store.type must be postgres or badger")
	}
	if cfg.Store.MaxBatchSize <= 0 {
		cfg.Store.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Store.Type == StoreTypePostgres && cfg.Store.MaxBatchSize > MaxPostgresBatchSize {
		return fmt.Errorf("store.max_batch_size must not exceed %d for postgres store", MaxPostgresBatchSize)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialBackoffMs <= 0 {
		cfg.Retry.InitialBackoffMs = 100
	}
	if cfg.Retry.MaxBackoffMs <= 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.OperationTimeoutMs <= 0 {
		cfg.OperationTimeoutMs = 15000
	}
	if cfg.ContentCache.Size < 0 {
		cfg.ContentCache.Size = 0
	}
	if cfg.ContentCache.TTLSeconds <= 0 {
		cfg.ContentCache.TTLSeconds = 300
	}
	if cfg.Share.TokenBytes == 0 {
		cfg.Share.TokenBytes = 32
	}
	if cfg.Share.TokenBytes < minTokenBytes {
		return fmt.Errorf("share.token_bytes must be at least %d", minTokenBytes)
	}
	if cfg.Share.RateLimitPerMinute <= 0 {
		cfg.Share.RateLimitPerMinute = 60
	}
	if cfg.Share.RateLimitBurst <= 0 {
		cfg.Share.RateLimitBurst = 10
	}
	if cfg.Schedule.TokenSweepSpec == "" {
		cfg.Schedule.TokenSweepSpec = "*/10 * * * *"
	}
	if cfg.Schedule.TokenSweepBatch <= 0 {
		cfg.Schedule.TokenSweepBatch = 500
	}
	if cfg.Schedule.LegacyMigrationSpec == "" {
		cfg.Schedule.LegacyMigrationSpec = "*/5 * * * *"
	}
	if cfg.Schedule.LegacyMigrationBatch <= 0 {
		cfg.Schedule.LegacyMigrationBatch = 50
	}
	return nil
}
