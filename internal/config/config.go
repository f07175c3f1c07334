// Package config loads the turbox configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TURBOX"

// Config is the file layout.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Workers         int           `yaml:"workers"` // 0 defers to the entry script, then the CPU count
	MaxConnections  int           `yaml:"max_connections"`
	Backlog         int           `yaml:"backlog"`
	KeepAlive       bool          `yaml:"keep_alive"`
	Compression     bool          `yaml:"compression"`
	H2C             bool          `yaml:"h2c"`
	MetricsPath     string        `yaml:"metrics_path"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RuntimeConfig configures the runtime instances.
type RuntimeConfig struct {
	WorkDir         string   `yaml:"work_dir"`
	SearchPath      []string `yaml:"search_path"`
	MemoryLimitMB   int      `yaml:"memory_limit_mb"`
	CheckExtensions bool     `yaml:"check_extensions"`
	Database        string   `yaml:"database"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			MaxConnections:  100000,
			Backlog:         16384,
			KeepAlive:       true,
			Compression:     true,
			MetricsPath:     "/metrics",
			MaxBodyBytes:    8 << 20,
			IdleTimeout:     90 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Runtime: RuntimeConfig{
			CheckExtensions: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies TURBOX_* overrides found through lookup (os.LookupEnv
// in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + "_" + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + "_" + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + "_" + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("HOST", &c.Server.Host)
	num("PORT", &c.Server.Port)
	num("WORKERS", &c.Server.Workers)
	num("MAX_CONNECTIONS", &c.Server.MaxConnections)
	flag("KEEP_ALIVE", &c.Server.KeepAlive)
	flag("COMPRESSION", &c.Server.Compression)
	flag("H2C", &c.Server.H2C)
	str("METRICS_PATH", &c.Server.MetricsPath)
	str("WORK_DIR", &c.Runtime.WorkDir)
	num("MEMORY_LIMIT_MB", &c.Runtime.MemoryLimitMB)
	str("DATABASE", &c.Runtime.Database)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup(EnvPrefix + "_SEARCH_PATH"); ok && v != "" {
		c.Runtime.SearchPath = strings.Split(v, string(os.PathListSeparator))
	}
	return errors.Join(errs...)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.Workers < 0 {
		errs = append(errs, fmt.Errorf("server.workers must not be negative"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("server.max_connections must not be negative"))
	}
	if c.Server.MetricsPath != "" && !strings.HasPrefix(c.Server.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("server.metrics_path must start with /"))
	}
	if c.Runtime.MemoryLimitMB < 0 {
		errs = append(errs, fmt.Errorf("runtime.memory_limit_mb must not be negative"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}
