// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the scout configuration.
//
// Settings are layered: built-in defaults, then the yaml file, then
// environment overrides. The file lives at ~/.aleutian/scout.yaml by
// convention but any path can be passed explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianScout/pkg/logging"
	"github.com/AleutianAI/AleutianScout/services/scout/artifact"
	"github.com/AleutianAI/AleutianScout/services/scout/retry"
	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
)

// Environment overrides applied after the config file.
const (
	// EnvCacheDir overrides cache.dir.
	EnvCacheDir = "SCOUT_CACHE_DIR"

	// EnvLogLevel overrides logging.level.
	EnvLogLevel = "SCOUT_LOG_LEVEL"

	// EnvPort overrides service.port.
	EnvPort = "SCOUT_PORT"
)

// configValidate is the validator instance for config structs.
var configValidate = validator.New()

// =============================================================================
// Types
// =============================================================================

// Config is the full scout configuration.
type Config struct {
	Service   ServiceConfig    `yaml:"service"`
	Sidecar   SidecarConfig    `yaml:"sidecar"`
	Cache     CacheConfig      `yaml:"cache"`
	Retry     RetryConfig      `yaml:"retry"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServiceConfig controls the HTTP surface in serve mode.
type ServiceConfig struct {
	// Host is the listen address.
	Host string `yaml:"host" validate:"required"`

	// Port is the listen port.
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

// SidecarConfig controls the spawned aleutian-tracer process.
type SidecarConfig struct {
	// Command is the tracer binary: a name on PATH or an absolute path.
	// The ALEUTIAN_TRACER_BIN environment variable overrides it.
	Command string `yaml:"command" validate:"required"`

	// Args are extra arguments passed to the tracer.
	Args []string `yaml:"args"`

	// Root is the tracer's working directory. Empty inherits scout's.
	Root string `yaml:"root"`

	// StartupTimeout bounds spawn plus the warm-up handshake.
	StartupTimeout time.Duration `yaml:"startup_timeout" validate:"gt=0"`

	// RequestTimeout is the default per-request deadline.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// ShutdownGrace is how long a clean exit may take before the kill.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gt=0"`
}

// CacheConfig controls the artifact store tier.
type CacheConfig struct {
	// Dir is the store directory. Empty keeps the cache in memory;
	// set it to persist artifacts across runs. Supports ~ expansion.
	Dir string `yaml:"dir"`

	// MaxAge is how long an artifact stays fresh. Zero keeps the
	// store default.
	MaxAge time.Duration `yaml:"max_age" validate:"gte=0"`

	// VerifySourceHash gates the source-tree drift check on lookups.
	VerifySourceHash bool `yaml:"verify_source_hash"`

	// Watch invalidates cached artifacts when watched project trees
	// change on disk.
	Watch bool `yaml:"watch"`
}

// RetryConfig bounds live-tier retries.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gt=0"`
	BackoffFactor  float64       `yaml:"backoff_factor" validate:"gte=1"`
	JitterFactor   float64       `yaml:"jitter_factor" validate:"gte=0,lte=1"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`

	// JSON switches stderr output to JSON.
	JSON bool `yaml:"json"`

	// LogDir enables an additional JSON file sink.
	LogDir string `yaml:"log_dir"`

	// Quiet drops the stderr sink (file-only when LogDir is set).
	Quiet bool `yaml:"quiet"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the built-in configuration.
//
// The cache defaults to in-memory so a one-shot CLI run never contends
// with a running service for the store's directory lock.
func Default() Config {
	rc := retry.DefaultConfig()
	return Config{
		Service: ServiceConfig{
			Host: "127.0.0.1",
			Port: 8088,
		},
		Sidecar: SidecarConfig{
			Command:        sidecar.DefaultTracerCommand,
			StartupTimeout: 30 * time.Second,
			RequestTimeout: 2 * time.Minute,
			ShutdownGrace:  5 * time.Second,
		},
		Cache: CacheConfig{
			MaxAge:           artifact.DefaultMaxAge,
			VerifySourceHash: true,
			Watch:            true,
		},
		Retry: RetryConfig{
			MaxAttempts:    rc.MaxAttempts,
			InitialBackoff: rc.InitialBackoff,
			MaxBackoff:     rc.MaxBackoff,
			BackoffFactor:  rc.BackoffFactor,
			JitterFactor:   rc.JitterFactor,
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the conventional config file location,
// ~/.aleutian/scout.yaml, or "" when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aleutian", "scout.yaml")
}

// Load reads the configuration.
//
// Description:
//
//	Starts from Default(), overlays the yaml file when path is non-empty,
//	applies environment overrides, and validates the result. A missing
//	explicit path is an error; use LoadDefault for the optional
//	conventional location.
//
// Inputs:
//
//	path - Config file path, or "" for defaults plus environment.
//
// Outputs:
//
//	Config - The effective configuration.
//	error - Non-nil if the file is unreadable, malformed, or invalid.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDefault loads ~/.aleutian/scout.yaml when it exists, defaults
// otherwise.
func LoadDefault() (Config, error) {
	path := DefaultPath()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Load("")
}

// ApplyEnv applies environment overrides on top of the loaded values.
//
// Environment wins over the file: a deployment variable must not be
// silently shadowed by a stale config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(sidecar.EnvTracerBin); v != "" {
		c.Sidecar.Command = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Service.Port = port
		}
	}
	if v := os.Getenv("ALEUTIAN_ENV"); v != "" {
		c.Telemetry.Environment = v
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		c.Telemetry.TraceExporter = v
	}
	if v := os.Getenv("OTEL_METRICS_EXPORTER"); v != "" {
		c.Telemetry.MetricExporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
}

// Validate checks the configuration for use.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Telemetry.TraceExporter {
	case "otlp", "stdout", "none":
	default:
		return fmt.Errorf("%w: trace exporter %q", telemetry.ErrUnknownExporter, c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case "prometheus", "stdout", "none":
	default:
		return fmt.Errorf("%w: metric exporter %q", telemetry.ErrUnknownExporter, c.Telemetry.MetricExporter)
	}

	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("invalid config: retry max_backoff %s below initial_backoff %s",
			c.Retry.MaxBackoff, c.Retry.InitialBackoff)
	}
	return nil
}

// =============================================================================
// Converters
// =============================================================================

// SidecarConfig maps the sidecar section onto the sidecar package config.
func (c *Config) SidecarConfig() sidecar.Config {
	return sidecar.Config{
		Command:        c.Sidecar.Command,
		Args:           c.Sidecar.Args,
		Root:           expandHome(c.Sidecar.Root),
		StartupTimeout: c.Sidecar.StartupTimeout,
		RequestTimeout: c.Sidecar.RequestTimeout,
		ShutdownGrace:  c.Sidecar.ShutdownGrace,
	}
}

// RetryConfig maps the retry section onto the retry package config.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    c.Retry.MaxAttempts,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		BackoffFactor:  c.Retry.BackoffFactor,
		JitterFactor:   c.Retry.JitterFactor,
	}
}

// StoreConfig maps the cache section onto the artifact store config.
func (c *Config) StoreConfig() artifact.Config {
	var sc artifact.Config
	if c.Cache.Dir == "" {
		sc = artifact.InMemoryConfig()
	} else {
		sc = artifact.DefaultConfig(expandHome(c.Cache.Dir))
	}
	if c.Cache.MaxAge > 0 {
		sc.MaxAge = c.Cache.MaxAge
	}
	sc.VerifySourceHash = c.Cache.VerifySourceHash
	return sc
}

// LoggerConfig maps the logging section onto the logging package config.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   logging.ParseLevel(c.Logging.Level),
		LogDir:  c.Logging.LogDir,
		Service: "scout",
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
