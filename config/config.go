// Package config loads the server configuration from config.yaml, a .env
// file and PAIE_* environment variables, in increasing order of priority.
// Command line flags applied by cmd/server override all three.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: PAIE_SERVER_PORT sets
// server.port.
const EnvPrefix = "PAIE"

type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Payroll     PayrollConfig  `mapstructure:"payroll"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CorsOrigins     []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // sqlite file, or ":memory:"
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// PayrollConfig tunes the computation engine.
type PayrollConfig struct {
	Workers int `mapstructure:"workers"`
	// LockBackend is "local" for a single process or "redis" when several
	// processes recompute the same store.
	LockBackend string        `mapstructure:"lock_backend"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	// HistoryHorizonMonths overrides the stored parameter when > 0.
	HistoryHorizonMonths int           `mapstructure:"history_horizon_months"`
	PurgeInterval        time.Duration `mapstructure:"purge_interval"` // 0 disables the purge loop
	JobQueueSize         int           `mapstructure:"job_queue_size"`
	// CatalogPath is a JSON catalog loaded at startup; "standard" loads the
	// built-in catalog, "" loads nothing.
	CatalogPath string `mapstructure:"catalog_path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func (c *Config) IsProduction() bool { return c.Environment == "production" }

// Load reads the configuration. An empty path looks for ./config.yaml and
// tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.path", "./data/paie.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("payroll.workers", 4)
	v.SetDefault("payroll.lock_backend", "local")
	v.SetDefault("payroll.lock_ttl", "2m")
	v.SetDefault("payroll.history_horizon_months", 0)
	v.SetDefault("payroll.purge_interval", "24h")
	v.SetDefault("payroll.job_queue_size", 32)
	v.SetDefault("payroll.catalog_path", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Payroll.Workers < 1 {
		return errors.New("payroll.workers must be at least 1")
	}
	if c.Payroll.JobQueueSize < 1 {
		return errors.New("payroll.job_queue_size must be at least 1")
	}
	if !slices.Contains([]string{"local", "redis"}, c.Payroll.LockBackend) {
		return fmt.Errorf("payroll.lock_backend must be local or redis, got %q", c.Payroll.LockBackend)
	}
	if c.Payroll.LockBackend == "redis" {
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required with the redis lock backend")
		}
		if c.Payroll.LockTTL <= 0 {
			return errors.New("payroll.lock_ttl must be positive")
		}
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}
