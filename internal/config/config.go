package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Engine   EngineConfig   `yaml:"engine"`
	Cache    CacheConfig    `yaml:"cache"`
	Terminal TerminalConfig `yaml:"terminal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Store    StoreConfig    `yaml:"store"`
}

type ServerConfig struct {
	Address         string        `yaml:"address"`
	RealtimeAddress string        `yaml:"realtime_address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// EngineConfig selects the container engine endpoint. An empty Host means
// the DOCKER_* environment variables decide.
type EngineConfig struct {
	Host       string        `yaml:"host"`
	APIVersion string        `yaml:"api_version"`
	TLS        TLSConfig     `yaml:"tls"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TLSConfig struct {
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.Cert != "" || t.Key != ""
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type TerminalConfig struct {
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
	MaxSessions    int           `yaml:"max_sessions"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Shell          []string      `yaml:"shell"`
}

type MetricsConfig struct {
	Interval         time.Duration     `yaml:"interval"`
	Retention        int               `yaml:"retention"`
	ContainerMetrics bool              `yaml:"container_metrics"`
	Thresholds       domain.Thresholds `yaml:"thresholds"`
	ProcPath         string            `yaml:"proc_path"`
	DiskPath         string            `yaml:"disk_path"`
}

// StoreConfig enables the Postgres mirror of the metric history when DSN is set.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

func (s StoreConfig) Enabled() bool {
	return s.DSN != ""
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":3000",
			RealtimeAddress: ":3001",
			ShutdownTimeout: 10 * time.Second,
			LogLevel:        "info",
			LogFormat:       "json",
		},
		Engine: EngineConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Second,
		},
		Terminal: TerminalConfig{
			IdleTimeout:    30 * time.Minute,
			ReapInterval:   time.Minute,
			MaxSessions:    50,
			CommandTimeout: 30 * time.Second,
			Shell:          slices.Clone(domain.DefaultShell),
		},
		Metrics: MetricsConfig{
			Interval:         5 * time.Second,
			Retention:        100,
			ContainerMetrics: true,
			Thresholds:       domain.DefaultThresholds(),
			ProcPath:         "/proc",
			DiskPath:         "/",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path yields defaults; a
// path that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Cache.TTL <= 0 {
		result = multierror.Append(result, errors.New("cache.ttl must be positive"))
	}
	if c.Terminal.IdleTimeout <= 0 {
		result = multierror.Append(result, errors.New("terminal.idle_timeout must be positive"))
	}
	if c.Terminal.ReapInterval <= 0 {
		result = multierror.Append(result, errors.New("terminal.reap_interval must be positive"))
	}
	if c.Terminal.MaxSessions <= 0 {
		result = multierror.Append(result, errors.New("terminal.max_sessions must be positive"))
	}
	if c.Terminal.CommandTimeout <= 0 {
		result = multierror.Append(result, errors.New("terminal.command_timeout must be positive"))
	}
	if len(c.Terminal.Shell) == 0 {
		result = multierror.Append(result, errors.New("terminal.shell must not be empty"))
	}
	if c.Metrics.Interval <= 0 {
		result = multierror.Append(result, errors.New("metrics.interval must be positive"))
	}
	if c.Metrics.Retention <= 0 {
		result = multierror.Append(result, errors.New("metrics.retention must be positive"))
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"cpu", c.Metrics.Thresholds.CPU},
		{"memory", c.Metrics.Thresholds.Memory},
		{"disk", c.Metrics.Thresholds.Disk},
	} {
		if th.value <= 0 || th.value > 100 {
			result = multierror.Append(result, fmt.Errorf("metrics.thresholds.%s must be in (0, 100]", th.name))
		}
	}
	if c.Engine.TLS.Enabled() && (c.Engine.TLS.Cert == "" || c.Engine.TLS.Key == "") {
		result = multierror.Append(result, errors.New("engine.tls requires both cert and key"))
	}
	return result.ErrorOrNil()
}
