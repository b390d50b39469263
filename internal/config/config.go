package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	JWTSecret            string `env:"JWT_SECRET,required"`
	SessionTokenSecret   string `env:"SESSION_TOKEN_SECRET,required"`
	SessionsDir          string `env:"SESSIONS_DIR" envDefault:"./whatsapp_sessions"`
	MaxSessionsPerUser   int    `env:"MAX_SESSIONS_PER_USER" envDefault:"2"`
	QRTimeoutMinutes     int    `env:"QR_TIMEOUT_MINUTES" envDefault:"5"`
	MaxReconnectAttempts int    `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelaySecs   int    `env:"RECONNECT_DELAY_SECONDS" envDefault:"5"`
	WebhookTimeoutSecs   int    `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	SendRateLimitPerMin  int    `env:"SEND_RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) QRTimeout() time.Duration {
	return time.Duration(c.QRTimeoutMinutes) * time.Minute
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySecs) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSecs) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.MaxSessionsPerUser < 1 {
		return fmt.Errorf("MAX_SESSIONS_PER_USER must be at least 1")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if err := validateSecret("SESSION_TOKEN_SECRET", c.SessionTokenSecret); err != nil {
			return err
		}
		if c.JWTSecret == c.SessionTokenSecret {
			log.Warn().Msg("JWT_SECRET and SESSION_TOKEN_SECRET are identical: a leaked session token doubles as a login token")
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
