package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	SessionSecret       string `env:"SESSION_SECRET"`
	BaseURL             string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	PairingTTLSeconds   int    `env:"PAIRING_TTL_SECONDS" envDefault:"120"`
	AuthCodeTTLSeconds  int    `env:"AUTH_CODE_TTL_SECONDS" envDefault:"60"`
	AppSessionTTLDays   int    `env:"APP_SESSION_TTL_DAYS" envDefault:"30"`
	PairingCreatePerMin int    `env:"PAIRING_CREATE_PER_MIN" envDefault:"10"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) AuthCodeTTL() time.Duration {
	return time.Duration(c.AuthCodeTTLSeconds) * time.Second
}

func (c *Config) AppSessionTTL() time.Duration {
	return time.Duration(c.AppSessionTTLDays) * 24 * time.Hour
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	// A one-time code must never outlive the pairing record it was minted for.
	if c.AuthCodeTTLSeconds > c.PairingTTLSeconds {
		return fmt.Errorf("AUTH_CODE_TTL_SECONDS (%d) must not exceed PAIRING_TTL_SECONDS (%d)",
			c.AuthCodeTTLSeconds, c.PairingTTLSeconds)
	}

	if isProduction {
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
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
