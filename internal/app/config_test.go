package app

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, MirrorFile, cfg.MirrorBackend)
	assert.Equal(t, 150*time.Millisecond, cfg.ResyncDelay)
	assert.Equal(t, 30*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, ReconcileTicker, cfg.ReconcileMode)
	assert.Equal(t, "*/30 * * * *", cfg.ReconcileCron)
	assert.False(t, cfg.ResetApprovalOnEdit)
	assert.Empty(t, cfg.PGDSN)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("MIRROR_BACKEND", "redis")
	t.Setenv("RESYNC_DELAY", "2s")
	t.Setenv("RESET_APPROVAL_ON_EDIT", "true")
	t.Setenv("RECONCILE_MODE", "asynq")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, MirrorRedis, cfg.MirrorBackend)
	assert.Equal(t, 2*time.Second, cfg.ResyncDelay)
	assert.True(t, cfg.ResetApprovalOnEdit)
	assert.Equal(t, ReconcileAsynq, cfg.ReconcileMode)
}

func TestConfigValidate(t *testing.T) {
	base := Config{MirrorBackend: MirrorFile, MirrorPath: "x.json", ReconcileMode: ReconcileTicker}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"unknown mirror":   func(c *Config) { c.MirrorBackend = "s3" },
		"empty path":       func(c *Config) { c.MirrorPath = "" },
		"redis no addr":    func(c *Config) { c.MirrorBackend = MirrorRedis; c.RedisAddr = "" },
		"unknown mode":     func(c *Config) { c.ReconcileMode = "cron" },
		"asynq no cron":    func(c *Config) { c.ReconcileMode = ReconcileAsynq },
		"negative limiter": func(c *Config) { c.RateLimitPerMinute = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, &Config{LogFormat: "json", AppEnv: "demo"}).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"env":"demo"`)

	buf.Reset()
	newLogger(&buf, nil).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}
