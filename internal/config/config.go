package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"      validate:"required"`
	Broker    BrokerConfig    `mapstructure:"broker"    validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" validate:"required"`
	Reaper    ReaperConfig    `mapstructure:"reaper"    validate:"required"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains token-verification settings. Identity itself is
// resolved upstream; this service only verifies the bearer token signature
// and extracts the owner ID.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// BrokerConfig contains the NATS connection and subject settings used by
// the dispatcher and the worker consumer.
type BrokerConfig struct {
	URL         string `mapstructure:"url"          validate:"required"`
	TaskSubject string `mapstructure:"task_subject" validate:"required"`
	WorkerQueue string `mapstructure:"worker_queue" validate:"required"`
}

// RateLimitConfig holds the admission rule limits. Each rule is evaluated
// per owner over a rolling window that starts at the first increment.
type RateLimitConfig struct {
	GenerateMonthlyLimit int           `mapstructure:"generate_monthly_limit" validate:"required,gt=0"`
	GenerateDailyLimit   int           `mapstructure:"generate_daily_limit"   validate:"required,gt=0"`
	RefineMonthlyLimit   int           `mapstructure:"refine_monthly_limit"   validate:"required,gt=0"`
	MonthlyWindow        time.Duration `mapstructure:"monthly_window"         validate:"required"`
	DailyWindow          time.Duration `mapstructure:"daily_window"           validate:"required"`
}

// ReaperConfig holds the stuck-task sweep schedule and the two timeouts:
// a short one for tasks never claimed and a longer one for tasks whose
// worker died mid-pipeline. Both must exceed the expected p99 pipeline
// duration by a safety margin.
type ReaperConfig struct {
	Schedule      string        `mapstructure:"schedule"       validate:"required"`
	PendingAge    time.Duration `mapstructure:"pending_age"    validate:"required"`
	ProcessingAge time.Duration `mapstructure:"processing_age" validate:"required"`
}

// GeneratorConfig contains the image generation service settings.
// Only required by the worker binary.
type GeneratorConfig struct {
	GeminiAPIKey      string `mapstructure:"gemini_api_key"`
	ModelName         string `mapstructure:"model_name"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"gte=0"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	VariationCount    int    `mapstructure:"variation_count"     validate:"gte=0,lte=8"`
}

// StorageConfig contains the artifact storage settings.
// Only required by the worker binary.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}
