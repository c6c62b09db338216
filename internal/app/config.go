package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Mirror backends.
const (
	MirrorFile  = "file"
	MirrorRedis = "redis"
)

// Reconcile modes.
const (
	ReconcileTicker = "ticker"
	ReconcileAsynq  = "asynq"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// PGDSN empty runs the service on the demonstration dataset only.
	PGDSN     string `envconfig:"PG_DSN"`
	PGMigrate bool   `envconfig:"PG_MIGRATE" default:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	MirrorBackend  string        `envconfig:"MIRROR_BACKEND" default:"file"`
	MirrorPath     string        `envconfig:"MIRROR_PATH" default:"data/overlay.json"`
	MirrorRedisKey string        `envconfig:"MIRROR_REDIS_KEY" default:"agenda:overlay"`
	MirrorWatch    bool          `envconfig:"MIRROR_WATCH" default:"false"`
	ResyncDelay    time.Duration `envconfig:"RESYNC_DELAY" default:"150ms"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"30m"`
	ReconcileMode     string        `envconfig:"RECONCILE_MODE" default:"ticker"`
	ReconcileCron     string        `envconfig:"RECONCILE_CRON" default:"*/30 * * * *"`

	SessionProfilesFile string `envconfig:"SESSION_PROFILES_FILE"`
	// JWTSecret empty trusts the X-User-Id and X-User-Role headers.
	JWTSecret           string `envconfig:"JWT_SECRET"`
	ResetApprovalOnEdit bool   `envconfig:"RESET_APPROVAL_ON_EDIT" default:"false"`

	BreakerTimeout     time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// LoadConfig reads configuration from an optional .env file and the
// environment. Variables already set in the environment win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unsupported backend and mode values.
func (c *Config) Validate() error {
	switch c.MirrorBackend {
	case MirrorFile:
		if c.MirrorPath == "" {
			return errors.New("MIRROR_PATH must be set for the file mirror")
		}
	case MirrorRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR must be set for the redis mirror")
		}
	default:
		return fmt.Errorf("unsupported MIRROR_BACKEND %q", c.MirrorBackend)
	}
	switch c.ReconcileMode {
	case ReconcileTicker:
	case ReconcileAsynq:
		if c.ReconcileCron == "" {
			return errors.New("RECONCILE_CRON must be set in asynq mode")
		}
	default:
		return fmt.Errorf("unsupported RECONCILE_MODE %q", c.ReconcileMode)
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
