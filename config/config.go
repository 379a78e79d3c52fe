// Package config loads process configuration once at startup. Services
// receive the resulting struct by injection; nothing reads ambient state.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob the engine needs. The webhook secret and the
// artifact root are deliberately plain fields so tests can construct a
// Config literal without touching viper.
type Config struct {
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	HTTPAddr           string        `mapstructure:"HTTP_ADDR"`
	JWTSecret          string        `mapstructure:"JWT_SECRET"`
	EsignWebhookSecret string        `mapstructure:"ESIGN_WEBHOOK_SECRET"`
	EsignBaseURL       string        `mapstructure:"ESIGN_BASE_URL"`
	EsignAPIKey        string        `mapstructure:"ESIGN_API_KEY"`
	ArtifactRoot       string        `mapstructure:"ARTIFACT_ROOT"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from an optional config file and the environment.
// Environment variables win over file values.
func Load() (Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read file: %w", err)
		}
	}

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("ARTIFACT_ROOT", "data/artifacts")
	v.SetDefault("SWEEP_INTERVAL", "24h")
	v.SetDefault("LOG_LEVEL", "info")

	// viper.AutomaticEnv only resolves keys it has seen, so bind the ones
	// without defaults explicitly.
	for _, key := range []string{"DATABASE_URL", "JWT_SECRET", "ESIGN_WEBHOOK_SECRET", "ESIGN_BASE_URL", "ESIGN_API_KEY"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run safely. A missing webhook
// secret would make every inbound event unverifiable, so it is always fatal.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.EsignWebhookSecret == "" {
		return fmt.Errorf("config: ESIGN_WEBHOOK_SECRET is required")
	}
	if c.EsignBaseURL == "" {
		return fmt.Errorf("config: ESIGN_BASE_URL is required")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive")
	}
	return nil
}
