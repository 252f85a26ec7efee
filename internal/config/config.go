// Package config loads process configuration for catalogetl.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// YAML/JSON/TOML file, a .env file, and the process environment. Environment
// keys are the config keys upper-cased with "." replaced by "_" and the
// CATALOG_ prefix (CATALOG_INGEST_BATCH_SIZE). DATABASE_URL is accepted as a
// fallback for store.dsn.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment key.
const EnvPrefix = "CATALOG"

// Config is the full process configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// StoreConfig selects and opens the backing store.
type StoreConfig struct {
	Kind             string `mapstructure:"kind"` // postgres, sqlite, mssql, mysql
	DSN              string `mapstructure:"dsn"`
	AutoCreateSchema bool   `mapstructure:"auto_create_schema"`
	MaxConns         int    `mapstructure:"max_conns"`
}

// IngestConfig tunes a pipeline run.
type IngestConfig struct {
	BatchSize       int     `mapstructure:"batch_size"`
	Strategy        string  `mapstructure:"strategy"` // auto, generic, bulk
	MinCompleteness float64 `mapstructure:"min_completeness"`
	LeadingFlush    bool    `mapstructure:"leading_flush"`
	// SkipLog is a CSV path for dropped records; empty disables it.
	SkipLog       string `mapstructure:"skip_log"`
	ProgressEvery int    `mapstructure:"progress_every"`
	// Limit caps accepted records per run for trial loads; 0 is unlimited.
	Limit int `mapstructure:"limit"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// MetricsConfig selects a metrics backend.
type MetricsConfig struct {
	Backend          string `mapstructure:"backend"` // none, pushgateway, datadog
	Job              string `mapstructure:"job"`
	PushgatewayURL   string `mapstructure:"pushgateway_url"`
	DatadogAddr      string `mapstructure:"datadog_addr"`
	DatadogNamespace string `mapstructure:"datadog_namespace"`
}

// HTTPConfig configures the upload server.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. When empty, Load searches for
	// catalogetl.{yaml,json,toml} in the working directory and
	// /etc/catalogetl, and a missing file is not an error.
	File string
	// EnvFile is a dotenv file loaded into the environment before reading
	// it. A missing file is ignored. Defaults to ".env".
	EnvFile string
}

// Load builds a Config. It does not validate; see Validate.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables that are already set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("config: bind store.dsn: %w", err)
	}

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("catalogetl")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/catalogetl/")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("config: read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in defaults.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.kind", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_create_schema", true)
	v.SetDefault("store.max_conns", 4)

	v.SetDefault("ingest.batch_size", 512)
	v.SetDefault("ingest.strategy", "auto")
	v.SetDefault("ingest.min_completeness", 0.25)
	v.SetDefault("ingest.leading_flush", false)
	v.SetDefault("ingest.skip_log", "")
	v.SetDefault("ingest.progress_every", 100)
	v.SetDefault("ingest.limit", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "development")

	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.job", "catalogetl")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.datadog_addr", "")
	v.SetDefault("metrics.datadog_namespace", "catalogetl.")

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.max_upload_bytes", 1<<30)
	v.SetDefault("http.rate_per_second", 2.0)
	v.SetDefault("http.burst", 4)
	v.SetDefault("http.shutdown_timeout", "15s")
}
