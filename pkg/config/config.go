package config

import (
	"context"
	"time"
)

// Config represents the complete configuration for the animagen engine.
// It provides type-safe access to all configuration values with validation.
type Config struct {
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	Pipeline   PipelineConfig   `koanf:"pipeline"   validate:"required"`
	Fetch      FetchConfig      `koanf:"fetch"      validate:"required"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Storage    StorageConfig    `koanf:"storage"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error disabled" env:"RUNTIME_LOG_LEVEL"`
	LogJSON     bool   `koanf:"log_json"                                                    env:"RUNTIME_LOG_JSON"`
}

// PipelineConfig contains the retry/timeout policy applied to externally-backed blocks.
type PipelineConfig struct {
	MaxRetries        int           `koanf:"max_retries"         validate:"min=0"  env:"PIPELINE_MAX_RETRIES"`
	BaseDelay         time.Duration `koanf:"base_delay"          validate:"min=0"  env:"PIPELINE_BASE_DELAY"`
	MaxDelay          time.Duration `koanf:"max_delay"           validate:"min=0"  env:"PIPELINE_MAX_DELAY"`
	Jitter            time.Duration `koanf:"jitter"              validate:"min=0"  env:"PIPELINE_JITTER"`
	AITimeout         time.Duration `koanf:"ai_timeout"          validate:"gt=0"   env:"PIPELINE_AI_TIMEOUT"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout"       validate:"gt=0"   env:"PIPELINE_FETCH_TIMEOUT"`
	MaxConcurrentRuns int           `koanf:"max_concurrent_runs" validate:"min=1"  env:"PIPELINE_MAX_CONCURRENT_RUNS"`
}

// FetchConfig bounds reference image downloads.
type FetchConfig struct {
	MaxDownloadSizeBytes int64         `koanf:"max_download_size_bytes" validate:"min=1" env:"FETCH_MAX_DOWNLOAD_SIZE_BYTES"`
	MaxRedirects         int           `koanf:"max_redirects"           validate:"min=0" env:"FETCH_MAX_REDIRECTS"`
	UserAgent            string        `koanf:"user_agent"                               env:"FETCH_USER_AGENT"`
	CacheMaxBytes        int64         `koanf:"cache_max_bytes"         validate:"min=0" env:"FETCH_CACHE_MAX_BYTES"`
	CacheTTL             time.Duration `koanf:"cache_ttl"               validate:"min=0" env:"FETCH_CACHE_TTL"`
}

// OpenAIConfig contains OpenAI API configuration.
type OpenAIConfig struct {
	APIKey            SensitiveString `koanf:"api_key"             env:"OPENAI_API_KEY"             sensitive:"true"`
	BaseURL           string          `koanf:"base_url"            env:"OPENAI_BASE_URL"`
	OrgID             string          `koanf:"org_id"              env:"OPENAI_ORG_ID"`
	DefaultModel      string          `koanf:"default_model"       env:"OPENAI_DEFAULT_MODEL"`
	RequestsPerMinute int             `koanf:"requests_per_minute" env:"OPENAI_REQUESTS_PER_MINUTE" validate:"min=0"`
	MaxConcurrency    int             `koanf:"max_concurrency"     env:"OPENAI_MAX_CONCURRENCY"     validate:"min=0"`
}

// StorageConfig contains object storage configuration for final image delivery.
type StorageConfig struct {
	Enabled   bool            `koanf:"enabled"    env:"STORAGE_ENABLED"`
	Endpoint  string          `koanf:"endpoint"   env:"STORAGE_ENDPOINT"`
	AccessKey string          `koanf:"access_key" env:"STORAGE_ACCESS_KEY"`
	SecretKey SensitiveString `koanf:"secret_key" env:"STORAGE_SECRET_KEY" sensitive:"true"`
	Bucket    string          `koanf:"bucket"     env:"STORAGE_BUCKET"     validate:"bucket_name"`
	Region    string          `koanf:"region"     env:"STORAGE_REGION"`
	UseSSL    bool            `koanf:"use_ssl"    env:"STORAGE_USE_SSL"`
	URLExpiry time.Duration   `koanf:"url_expiry" env:"STORAGE_URL_EXPIRY"`
}

// DatabaseConfig contains the generation-status database configuration.
type DatabaseConfig struct {
	Enabled     bool            `koanf:"enabled"      env:"DB_ENABLED"`
	ConnString  SensitiveString `koanf:"conn_string"  env:"DB_CONN_STRING"  sensitive:"true"`
	AutoMigrate bool            `koanf:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RedisConfig contains the generation-status publisher configuration.
type RedisConfig struct {
	Enabled   bool            `koanf:"enabled"    env:"REDIS_ENABLED"`
	Addr      string          `koanf:"addr"       env:"REDIS_ADDR"`
	Password  SensitiveString `koanf:"password"   env:"REDIS_PASSWORD"   sensitive:"true"`
	DB        int             `koanf:"db"         env:"REDIS_DB"         validate:"min=0"`
	Channel   string          `koanf:"channel"    env:"REDIS_CHANNEL"`
	KeyPrefix string          `koanf:"key_prefix" env:"REDIS_KEY_PREFIX"`
	StatusTTL time.Duration   `koanf:"status_ttl" env:"REDIS_STATUS_TTL"`
}

// MonitoringConfig contains metrics configuration.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// Service defines the configuration management service interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
	// Close releases any resources held by the source.
	Close() error
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration using the default service.
func Load() (*Config, error) {
	service := NewService()
	return service.Load(context.Background())
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		Pipeline: PipelineConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			AITimeout:         120 * time.Second,
			FetchTimeout:      30 * time.Second,
			MaxConcurrentRuns: 4,
		},
		Fetch: FetchConfig{
			MaxDownloadSizeBytes: 20 << 20,
			MaxRedirects:         3,
			UserAgent:            "animagen/1.0",
			CacheMaxBytes:        256 << 20,
			CacheTTL:             10 * time.Minute,
		},
		OpenAI: OpenAIConfig{
			BaseURL:           "https://api.openai.com/v1",
			DefaultModel:      "gpt-image-1",
			RequestsPerMinute: 50,
			MaxConcurrency:    4,
		},
		Storage: StorageConfig{
			Bucket:    "animagen",
			Region:    "us-east-1",
			UseSSL:    true,
			URLExpiry: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Channel:   "animagen:runs",
			KeyPrefix: "animagen:run:",
			StatusTTL: 24 * time.Hour,
		},
		Monitoring: MonitoringConfig{
			Path: "/metrics",
		},
	}
}
