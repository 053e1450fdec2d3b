package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moustaphacheikh/paie/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "local", cfg.Payroll.LockBackend)
	assert.Equal(t, 4, cfg.Payroll.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Payroll.PurgeInterval)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: a config file and an environment override
	// WHEN: loading
	// THEN: the environment wins over the file, the file over defaults

	path := writeConfig(t, `
environment: production
server:
  port: "9090"
database:
  path: /var/lib/paie/paie.db
payroll:
  workers: 8
  lock_backend: redis
redis:
  addr: redis:6379
`)
	t.Setenv("PAIE_PAYROLL_WORKERS", "2")
	t.Setenv("PAIE_LOGGING_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/var/lib/paie/paie.db", cfg.Database.Path)
	assert.Equal(t, 2, cfg.Payroll.Workers)
	assert.Equal(t, "redis", cfg.Payroll.LockBackend)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			Server:   config.ServerConfig{Port: "8080"},
			Database: config.DatabaseConfig{Path: ":memory:"},
			Payroll:  config.PayrollConfig{Workers: 1, JobQueueSize: 1, LockBackend: "local"},
			Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"no port", func(c *config.Config) { c.Server.Port = "" }},
		{"no database", func(c *config.Config) { c.Database.Path = "" }},
		{"no workers", func(c *config.Config) { c.Payroll.Workers = 0 }},
		{"no queue", func(c *config.Config) { c.Payroll.JobQueueSize = 0 }},
		{"unknown lock backend", func(c *config.Config) { c.Payroll.LockBackend = "etcd" }},
		{"redis without addr", func(c *config.Config) { c.Payroll.LockBackend = "redis"; c.Payroll.LockTTL = time.Minute }},
		{"redis without ttl", func(c *config.Config) { c.Payroll.LockBackend = "redis"; c.Redis.Addr = "localhost:6379" }},
		{"relative metrics path", func(c *config.Config) { c.Metrics.Path = "metrics" }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
