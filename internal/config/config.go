package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the application configuration, parsed from the environment.
type Config struct {
	DatabaseURL        string        `env:"DATABASE_URL,required"`
	Port               string        `env:"PORT" envDefault:"8080"`
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET,required"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET,required"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	Env                string        `env:"APP_ENV" envDefault:"development"`
	OtpDevMode         bool          `env:"OTP_DEV_MODE" envDefault:"false"`
}

// Production reports whether the app runs with production cookie settings.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load reads .env files (best effort) and parses the environment.
func Load() (*Config, error) {
	// Works from repo root or cmd/api; env vars take precedence.
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RefreshTokenTTL < 24*time.Hour {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL must be at least 24h, got %s", cfg.RefreshTokenTTL)
	}
	return cfg, nil
}
