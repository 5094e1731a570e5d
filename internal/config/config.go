package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/wichananm65/participant-service/internal/saga"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds environment-driven configuration.
type Config struct {
	Addr             string        `envconfig:"PARTICIPANTS_ADDR" default:":8080"`
	StoreBackend     string        `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL      string        `envconfig:"DATABASE_URL"`
	RedisURL         string        `envconfig:"REDIS_URL"`
	Collection       string        `envconfig:"STORE_COLLECTION" default:"participants"`
	WritePolicy      string        `envconfig:"PARTICIPANT_WRITE_POLICY" default:"best-effort"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"json"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSAllowOrigins string        `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// Load reads a .env file when present, then the process environment.
// Variables already set in the environment win over .env.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv decodes and validates the configuration from the environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", BackendPostgres)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s backend", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Collection == "" {
		return fmt.Errorf("STORE_COLLECTION must not be empty")
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy is the parsed PARTICIPANT_WRITE_POLICY.
func (c Config) Policy() (saga.Policy, error) {
	return saga.ParsePolicy(c.WritePolicy)
}
