package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and optionally a
// config file. Environment variables take precedence over values from
// config files. Returns a populated Config struct or an error if
// loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optional config file in the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file present: environment variables alone are fine.
	}

	// Environment variables: FORGE_SERVER_PORT, FORGE_DATABASE_URL, ...
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults establishes default values for configuration settings that
// have a sensible fallback.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("broker.url", "nats://127.0.0.1:4222")
	v.SetDefault("broker.task_subject", "forge.tasks")
	v.SetDefault("broker.worker_queue", "forge-workers")

	v.SetDefault("ratelimit.generate_monthly_limit", 10)
	v.SetDefault("ratelimit.generate_daily_limit", 3)
	v.SetDefault("ratelimit.refine_monthly_limit", 30)
	v.SetDefault("ratelimit.monthly_window", 30*24*time.Hour)
	v.SetDefault("ratelimit.daily_window", 24*time.Hour)

	v.SetDefault("reaper.schedule", "@every 5m")
	v.SetDefault("reaper.pending_age", 15*time.Minute)
	v.SetDefault("reaper.processing_age", 45*time.Minute)

	v.SetDefault("generator.model_name", "gemini-2.0-flash-exp")
	v.SetDefault("generator.max_retries", 3)
	v.SetDefault("generator.retry_delay_seconds", 2)
	v.SetDefault("generator.variation_count", 3)
}

// bindEnvKeys explicitly binds nested keys so AutomaticEnv resolves them
// even when they are absent from both defaults and the config file.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"database.url",
		"auth.jwt_secret",
		"generator.gemini_api_key",
		"storage.bucket",
		"storage.region",
		"storage.endpoint",
		"storage.access_key",
		"storage.secret_key",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
