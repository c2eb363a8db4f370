package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          int    `env:"PORT" envDefault:"8080"`
	DatabaseURL   string `env:"DATABASE_URL,required"`
	RedisURL      string `env:"REDIS_URL"`
	EncryptionKey string `env:"ENCRYPTION_KEY"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	Environment   string `env:"APP_ENV" envDefault:"development"`

	PlexBaseURL    string `env:"PLEX_BASE_URL" envDefault:"https://plex.tv"`
	PlexAuthAppURL string `env:"PLEX_AUTH_APP_URL" envDefault:"https://app.plex.tv/auth"`
	Plex           PlexIdentity

	ProviderRatePerSecond float64 `env:"PROVIDER_RATE_PER_SECOND" envDefault:"5"`
	ProviderMaxRetries    int     `env:"PROVIDER_MAX_RETRIES" envDefault:"2"`
	ProbeConcurrency      int     `env:"PROBE_CONCURRENCY" envDefault:"8"`
	PinRateLimitPerMin    int     `env:"PIN_RATE_LIMIT_PER_MIN" envDefault:"10"`
	MetricsEnabled        bool    `env:"METRICS_ENABLED" envDefault:"true"`
}

// PlexIdentity is the static client header set sent on every provider call.
type PlexIdentity struct {
	Product         string `env:"PLEX_PRODUCT" envDefault:"OpenClaw"`
	Version         string `env:"PLEX_VERSION" envDefault:"1.0"`
	Platform        string `env:"PLEX_PLATFORM" envDefault:"Web"`
	PlatformVersion string `env:"PLEX_PLATFORM_VERSION" envDefault:"1.0"`
	Device          string `env:"PLEX_DEVICE" envDefault:"OpenClaw"`
	DeviceName      string `env:"PLEX_DEVICE_NAME" envDefault:"OpenClaw Web"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// IsProduction enables HSTS and the production config warnings.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Validate(isProduction bool) error {
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	for name, raw := range map[string]string{"PLEX_BASE_URL": c.PlexBaseURL, "PLEX_AUTH_APP_URL": c.PlexAuthAppURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if c.ProbeConcurrency < 1 {
		return fmt.Errorf("PROBE_CONCURRENCY must be at least 1")
	}
	if c.ProviderRatePerSecond <= 0 {
		return fmt.Errorf("PROVIDER_RATE_PER_SECOND must be positive")
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if strings.HasPrefix(c.PlexBaseURL, "http://") {
			log.Warn().Msg("PLEX_BASE_URL is not HTTPS in production: tokens will travel in clear text")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: the key will be generated and stored next to the ciphertext")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
