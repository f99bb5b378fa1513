// Package config loads the gateway configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"go.uber.org/zap"
)

type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR" default:":8080"`
	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR" default:":9090"`

	BackendURL     string        `env:"BACKEND_URL" default:"http://localhost:5000"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" default:"0s"`

	DatabaseDriver string `env:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" default:"tomato-check.db"`
	RedisAddr      string `env:"REDIS_ADDR"`

	JWTSecret   string `env:"JWT_SECRET"`
	JWTAudience string `env:"JWT_AUDIENCE"`

	LogLevel string `env:"LOG_LEVEL" default:"info"`

	SessionIdleTTL       time.Duration `env:"SESSION_IDLE_TTL" default:"30m"`
	AnalyzeRatePerMinute int           `env:"ANALYZE_RATE_PER_MINUTE" default:"30"`
	BreakerMaxFailures   int           `env:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerOpenTimeout   time.Duration `env:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	CameraProbeInterval  time.Duration `env:"CAMERA_PROBE_INTERVAL" default:"0s"`
	MaxUploadBytes       int64         `env:"MAX_UPLOAD_BYTES" default:"10485760"`
}

// Load reads .env (if present) and the process environment.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Anonymous reports whether requests are served without authentication.
func (c *Config) Anonymous() bool {
	return c.JWTSecret == ""
}

func validate(cfg *Config) error {
	required := map[string]string{
		"HTTP_ADDR":    cfg.HTTPAddr,
		"BACKEND_URL":  cfg.BackendURL,
		"DATABASE_DSN": cfg.DatabaseDSN,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	u, err := url.Parse(cfg.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", cfg.BackendURL)
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", cfg.DatabaseDriver)
	}

	if cfg.BackendTimeout < 0 {
		return errors.New("BACKEND_TIMEOUT must not be negative")
	}
	if cfg.AnalyzeRatePerMinute < 0 {
		return errors.New("ANALYZE_RATE_PER_MINUTE must not be negative")
	}
	if cfg.BreakerMaxFailures < 1 {
		return errors.New("BREAKER_MAX_FAILURES must be at least 1")
	}
	if cfg.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}

	return nil
}
