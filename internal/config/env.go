package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv overrides cfg with LIGHTHOUSE_* environment variables.
// Malformed values are ignored.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("LIGHTHOUSE_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LIGHTHOUSE_REALTIME_ADDRESS"); v != "" {
		cfg.Server.RealtimeAddress = v
	}
	if v := os.Getenv("LIGHTHOUSE_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("LIGHTHOUSE_LOG_FORMAT"); v != "" {
		cfg.Server.LogFormat = v
	}

	if v := os.Getenv("LIGHTHOUSE_ENGINE_HOST"); v != "" {
		cfg.Engine.Host = v
	}
	if v := os.Getenv("LIGHTHOUSE_ENGINE_API_VERSION"); v != "" {
		cfg.Engine.APIVersion = v
	}

	setDuration("LIGHTHOUSE_CACHE_TTL", &cfg.Cache.TTL)
	setDuration("LIGHTHOUSE_TERMINAL_IDLE_TIMEOUT", &cfg.Terminal.IdleTimeout)
	setDuration("LIGHTHOUSE_TERMINAL_REAP_INTERVAL", &cfg.Terminal.ReapInterval)
	setInt("LIGHTHOUSE_TERMINAL_MAX_SESSIONS", &cfg.Terminal.MaxSessions)
	if v := os.Getenv("LIGHTHOUSE_TERMINAL_SHELL"); v != "" {
		cfg.Terminal.Shell = strings.Fields(v)
	}

	setDuration("LIGHTHOUSE_METRICS_INTERVAL", &cfg.Metrics.Interval)
	setInt("LIGHTHOUSE_METRICS_RETENTION", &cfg.Metrics.Retention)
	setFloat("LIGHTHOUSE_ALERT_CPU", &cfg.Metrics.Thresholds.CPU)
	setFloat("LIGHTHOUSE_ALERT_MEMORY", &cfg.Metrics.Thresholds.Memory)
	setFloat("LIGHTHOUSE_ALERT_DISK", &cfg.Metrics.Thresholds.Disk)

	if v := os.Getenv("LIGHTHOUSE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
