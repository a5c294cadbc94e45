// Package config loads lessonflow settings. Priority: LESSONFLOW_* env vars >
// settings file > defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/lessonflow/internal/telemetry"
)

const envPrefix = "LESSONFLOW_"

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`
	OutputDir  string `yaml:"output_dir"`
	// PDFFont is a TrueType font for PDF exports; empty uses Helvetica.
	PDFFont       string `yaml:"pdf_font"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	PoolSize      int    `yaml:"pool_size"`
	Mode          string `yaml:"mode"`
	MaxExecutions int    `yaml:"max_executions"`
	// Language is passed to the search fallback.
	Language string `yaml:"language"`

	VaultPassphrase string `yaml:"vault_passphrase"`
	VaultSalt       string `yaml:"vault_salt"`

	AI             AIConfig             `yaml:"ai"`
	Search         SearchConfig         `yaml:"search"`
	Redis          RedisConfig          `yaml:"redis"`
	Tracing        telemetry.Config     `yaml:"tracing"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
}

type AIConfig struct {
	DefaultProvider string `yaml:"default_provider"`
}

type SearchConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// RedisConfig enables the Redis event hub when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	// History and HistoryTTL bound the per-run event history; zero keeps
	// the hub defaults.
	History    int64         `yaml:"history"`
	HistoryTTL time.Duration `yaml:"history_ttl"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type SchedulerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tick    time.Duration `yaml:"tick"`
}

// Dir is the lessonflow home, ~/.lessonflow.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lessonflow"
	}
	return filepath.Join(home, ".lessonflow")
}

// DefaultPath is the settings file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "settings.yaml")
}

func Default() Config {
	return Config{
		ListenAddr:    ":4200",
		DBPath:        filepath.Join(Dir(), "lessonflow.db"),
		OutputDir:     filepath.Join(Dir(), "exports"),
		LogLevel:      "info",
		LogFormat:     "text",
		PoolSize:      10,
		Mode:          "barrier",
		MaxExecutions: 1000,
		Language:      "en",
		AI:            AIConfig{DefaultProvider: "openrouter"},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Scheduler: SchedulerConfig{Enabled: true, Tick: time.Minute},
		Tracing:   telemetry.Config{ServiceName: "lessonflow"},
	}
}

// Load layers the file at path (DefaultPath when empty) and the environment
// over the defaults. A missing file is not an error unless path was given.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("DB_PATH", &cfg.DBPath)
	str("OUTPUT_DIR", &cfg.OutputDir)
	str("PDF_FONT", &cfg.PDFFont)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("MODE", &cfg.Mode)
	str("LANGUAGE", &cfg.Language)
	str("VAULT_PASSPHRASE", &cfg.VaultPassphrase)
	str("VAULT_SALT", &cfg.VaultSalt)
	str("AI_PROVIDER", &cfg.AI.DefaultProvider)
	str("SEARCH_URL", &cfg.Search.URL)
	str("SEARCH_API_KEY", &cfg.Search.APIKey)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_CHANNEL", &cfg.Redis.Channel)
	flag("TRACING", &cfg.Tracing.Enabled)
	str("OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	flag("SCHEDULER", &cfg.Scheduler.Enabled)

	for name, dst := range map[string]*int{
		"POOL_SIZE":      &cfg.PoolSize,
		"MAX_EXECUTIONS": &cfg.MaxExecutions,
		"REDIS_DB":       &cfg.Redis.DB,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("pool_size must be positive, got %d", c.PoolSize))
	}
	if c.MaxExecutions <= 0 {
		errs = append(errs, fmt.Errorf("max_executions must be positive, got %d", c.MaxExecutions))
	}
	switch c.Mode {
	case "", "barrier", "per-path":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	return errors.Join(errs...)
}

// DSN is the libsql connection string for DBPath.
func (c Config) DSN() string {
	return "file:" + c.DBPath
}

// Save writes c to path as YAML, creating the directory.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
