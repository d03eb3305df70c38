// SPDX-License-Identifier: MIT

// Package config assembles runtime settings from defaults, an optional YAML
// file, and YKWATCH_* environment variables, in that precedence order.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the watch session and its observability
// surface. All fields have working defaults except BaseURL, ClassroomID and
// Cookie, which identify the platform account and must be provided.
type Config struct {
	// Platform access.
	BaseURL      string        `yaml:"base_url"`
	ClassroomID  string        `yaml:"classroom_id"`
	UniversityID int64         `yaml:"university_id"`
	Cookie       string        `yaml:"cookie"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`

	// Heartbeat pacing and retry budget.
	MinSpacing     time.Duration `yaml:"min_spacing"`
	MaxSpacing     time.Duration `yaml:"max_spacing"`
	SendAttempts   int           `yaml:"send_attempts"`
	SendRetryPause time.Duration `yaml:"send_retry_pause"`

	// Restart heuristic thresholds.
	RestartRegressRatio float64 `yaml:"restart_regress_ratio"`
	RestartExitRatio    float64 `yaml:"restart_exit_ratio"`

	// Safety valve against never-completing items.
	MaxTicksPerItem int `yaml:"max_ticks_per_item"`

	// Observability listener.
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	// Tracing.
	TraceEnabled  bool    `yaml:"trace_enabled"`
	TraceExporter string  `yaml:"trace_exporter"`
	TraceEndpoint string  `yaml:"trace_endpoint"`
	TraceSampling float64 `yaml:"trace_sampling"`
}

// Defaults returns the baseline configuration before file and environment
// overrides.
func Defaults() Config {
	return Config{
		BaseURL:             "https://changjiang.yuketang.cn",
		Timeout:             10 * time.Second,
		MinSpacing:          500 * time.Millisecond,
		MaxSpacing:          1500 * time.Millisecond,
		SendAttempts:        3,
		SendRetryPause:      500 * time.Millisecond,
		RestartRegressRatio: 0.8,
		RestartExitRatio:    0.2,
		MaxTicksPerItem:     10000,
		ListenAddr:          ":8080",
		LogLevel:            "info",
		TraceExporter:       "grpc",
		TraceSampling:       1.0,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then YKWATCH_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is operator-supplied
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.BaseURL = ParseString("YKWATCH_BASE_URL", cfg.BaseURL)
	cfg.ClassroomID = ParseString("YKWATCH_CLASSROOM_ID", cfg.ClassroomID)
	cfg.UniversityID = ParseInt64("YKWATCH_UNIVERSITY_ID", cfg.UniversityID)
	cfg.Cookie = ParseString("YKWATCH_COOKIE", cfg.Cookie)
	cfg.UserAgent = ParseString("YKWATCH_USER_AGENT", cfg.UserAgent)
	cfg.Timeout = ParseDuration("YKWATCH_TIMEOUT", cfg.Timeout)

	cfg.MinSpacing = ParseDuration("YKWATCH_MIN_SPACING", cfg.MinSpacing)
	cfg.MaxSpacing = ParseDuration("YKWATCH_MAX_SPACING", cfg.MaxSpacing)
	cfg.SendAttempts = ParseInt("YKWATCH_SEND_ATTEMPTS", cfg.SendAttempts)
	cfg.SendRetryPause = ParseDuration("YKWATCH_SEND_RETRY_PAUSE", cfg.SendRetryPause)

	cfg.RestartRegressRatio = ParseFloat("YKWATCH_RESTART_REGRESS_RATIO", cfg.RestartRegressRatio)
	cfg.RestartExitRatio = ParseFloat("YKWATCH_RESTART_EXIT_RATIO", cfg.RestartExitRatio)
	cfg.MaxTicksPerItem = ParseInt("YKWATCH_MAX_TICKS_PER_ITEM", cfg.MaxTicksPerItem)

	cfg.ListenAddr = ParseString("YKWATCH_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = ParseString("YKWATCH_LOG_LEVEL", cfg.LogLevel)

	cfg.TraceEnabled = ParseBool("YKWATCH_TRACE_ENABLED", cfg.TraceEnabled)
	cfg.TraceExporter = ParseString("YKWATCH_TRACE_EXPORTER", cfg.TraceExporter)
	cfg.TraceEndpoint = ParseString("YKWATCH_TRACE_ENDPOINT", cfg.TraceEndpoint)
	cfg.TraceSampling = ParseFloat("YKWATCH_TRACE_SAMPLING", cfg.TraceSampling)
}

// Validate rejects configurations that cannot produce a working session.
// It runs before any network activity.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url: missing host")
	}
	if c.ClassroomID == "" {
		return fmt.Errorf("classroom_id is required")
	}
	if c.Cookie == "" {
		return fmt.Errorf("cookie is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MinSpacing <= 0 || c.MaxSpacing < c.MinSpacing {
		return fmt.Errorf("heartbeat spacing invalid: min=%s max=%s", c.MinSpacing, c.MaxSpacing)
	}
	if c.SendAttempts <= 0 {
		return fmt.Errorf("send_attempts must be positive, got %d", c.SendAttempts)
	}
	if c.RestartRegressRatio <= 0 || c.RestartRegressRatio >= 1 {
		return fmt.Errorf("restart_regress_ratio must be in (0,1), got %g", c.RestartRegressRatio)
	}
	if c.RestartExitRatio <= 0 || c.RestartExitRatio >= c.RestartRegressRatio {
		return fmt.Errorf("restart_exit_ratio must be in (0, restart_regress_ratio), got %g", c.RestartExitRatio)
	}
	if c.MaxTicksPerItem <= 0 {
		return fmt.Errorf("max_ticks_per_item must be positive, got %d", c.MaxTicksPerItem)
	}
	if c.TraceEnabled {
		switch c.TraceExporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("trace_exporter must be grpc or http, got %q", c.TraceExporter)
		}
		if c.TraceSampling < 0 || c.TraceSampling > 1 {
			return fmt.Errorf("trace_sampling must be in [0,1], got %g", c.TraceSampling)
		}
	}
	return nil
}
