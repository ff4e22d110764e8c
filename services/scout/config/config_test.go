// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianScout/pkg/logging"
	"github.com/AleutianAI/AleutianScout/services/scout/retry"
	"github.com/AleutianAI/AleutianScout/services/scout/sidecar"
	"github.com/AleutianAI/AleutianScout/services/scout/telemetry"
)

// clearScoutEnv blanks every environment variable the loader reads so
// tests see only the values they set themselves.
func clearScoutEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		sidecar.EnvTracerBin,
		EnvCacheDir,
		EnvLogLevel,
		EnvPort,
		"ALEUTIAN_ENV",
		"OTEL_TRACES_EXPORTER",
		"OTEL_METRICS_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	clearScoutEnv(t)
	cfg := Default()

	assert.Equal(t, "127.0.0.1", cfg.Service.Host)
	assert.Equal(t, 8088, cfg.Service.Port)
	assert.Equal(t, sidecar.DefaultTracerCommand, cfg.Sidecar.Command)
	assert.Equal(t, 30*time.Second, cfg.Sidecar.StartupTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Sidecar.RequestTimeout)

	assert.Empty(t, cfg.Cache.Dir, "default cache is in-memory")
	assert.True(t, cfg.Cache.VerifySourceHash)
	assert.True(t, cfg.Cache.Watch)

	rc := retry.DefaultConfig()
	assert.Equal(t, rc.MaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, rc.InitialBackoff, cfg.Retry.InitialBackoff)

	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	clearScoutEnv(t)
	path := writeConfigFile(t, `
service:
  port: 9443
sidecar:
  command: /usr/local/bin/tracer
  request_timeout: 90s
cache:
  dir: /var/cache/scout
  max_age: 10m
retry:
  max_attempts: 5
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.Service.Port)
	assert.Equal(t, "127.0.0.1", cfg.Service.Host, "unset fields keep defaults")
	assert.Equal(t, "/usr/local/bin/tracer", cfg.Sidecar.Command)
	assert.Equal(t, 90*time.Second, cfg.Sidecar.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Sidecar.StartupTimeout)
	assert.Equal(t, "/var/cache/scout", cfg.Cache.Dir)
	assert.Equal(t, 10*time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	clearScoutEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearScoutEnv(t)
	path := writeConfigFile(t, "service: [not: a: mapping\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	clearScoutEnv(t)
	path := writeConfigFile(t, `
service:
  port: 9000
sidecar:
  command: /from/file/tracer
cache:
  dir: /from/file
logging:
  level: error
`)

	t.Setenv(sidecar.EnvTracerBin, "/from/env/tracer")
	t.Setenv(EnvPort, "9001")
	t.Setenv(EnvCacheDir, "/from/env")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env/tracer", cfg.Sidecar.Command)
	assert.Equal(t, 9001, cfg.Service.Port)
	assert.Equal(t, "/from/env", cfg.Cache.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level, "level is lowercased")
}

func TestLoad_TelemetryEnv(t *testing.T) {
	clearScoutEnv(t)
	t.Setenv("ALEUTIAN_ENV", "staging")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Telemetry.Environment)
	assert.Equal(t, "stdout", cfg.Telemetry.TraceExporter)
	assert.Equal(t, "none", cfg.Telemetry.MetricExporter)
}

func TestLoad_BadPortEnvIgnored(t *testing.T) {
	clearScoutEnv(t)
	t.Setenv(EnvPort, "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Service.Port)
}

func TestValidate(t *testing.T) {
	clearScoutEnv(t)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Service.Port = 0 },
			wantErr: "invalid config",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Service.Port = 70000 },
			wantErr: "invalid config",
		},
		{
			name:    "missing sidecar command",
			mutate:  func(c *Config) { c.Sidecar.Command = "" },
			wantErr: "invalid config",
		},
		{
			name:    "zero startup timeout",
			mutate:  func(c *Config) { c.Sidecar.StartupTimeout = 0 },
			wantErr: "invalid config",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid config",
		},
		{
			name:    "jitter above one",
			mutate:  func(c *Config) { c.Retry.JitterFactor = 1.5 },
			wantErr: "invalid config",
		},
		{
			name:    "max backoff below initial",
			mutate:  func(c *Config) { c.Retry.MaxBackoff = c.Retry.InitialBackoff / 2 },
			wantErr: "max_backoff",
		},
		{
			name:    "unknown trace exporter",
			mutate:  func(c *Config) { c.Telemetry.TraceExporter = "smoke_signals" },
			wantErr: "unknown exporter type",
		},
		{
			name:    "unknown metric exporter",
			mutate:  func(c *Config) { c.Telemetry.MetricExporter = "abacus" },
			wantErr: "unknown exporter type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ExporterErrorsAreSentinels(t *testing.T) {
	clearScoutEnv(t)
	cfg := Default()
	cfg.Telemetry.TraceExporter = "smoke_signals"
	assert.ErrorIs(t, cfg.Validate(), telemetry.ErrUnknownExporter)
}

func TestLoadDefault_NoFile(t *testing.T) {
	clearScoutEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Service.Port)
}

func TestLoadDefault_ConventionalFile(t *testing.T) {
	clearScoutEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".aleutian"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, ".aleutian", "scout.yaml"),
		[]byte("service:\n  port: 9777\n"), 0o644))

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, 9777, cfg.Service.Port)
}

func TestSidecarConfigConversion(t *testing.T) {
	clearScoutEnv(t)
	cfg := Default()
	cfg.Sidecar.Command = "/opt/tracer"
	cfg.Sidecar.Args = []string{"--fast"}
	cfg.Sidecar.RequestTimeout = 45 * time.Second

	sc := cfg.SidecarConfig()
	assert.Equal(t, "/opt/tracer", sc.Command)
	assert.Equal(t, []string{"--fast"}, sc.Args)
	assert.Equal(t, 45*time.Second, sc.RequestTimeout)
}

func TestStoreConfigConversion(t *testing.T) {
	clearScoutEnv(t)

	t.Run("in-memory by default", func(t *testing.T) {
		cfg := Default()
		sc := cfg.StoreConfig()
		assert.True(t, sc.InMemory)
		assert.Empty(t, sc.Path)
		assert.True(t, sc.VerifySourceHash)
	})

	t.Run("persistent with overrides", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.Dir = "/var/cache/scout"
		cfg.Cache.MaxAge = time.Hour
		cfg.Cache.VerifySourceHash = false

		sc := cfg.StoreConfig()
		assert.False(t, sc.InMemory)
		assert.Equal(t, "/var/cache/scout", sc.Path)
		assert.Equal(t, time.Hour, sc.MaxAge)
		assert.False(t, sc.VerifySourceHash)
	})

	t.Run("tilde expansion", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		cfg := Default()
		cfg.Cache.Dir = "~/scout-cache"
		sc := cfg.StoreConfig()
		assert.Equal(t, filepath.Join(home, "scout-cache"), sc.Path)
	})
}

func TestRetryConfigConversion(t *testing.T) {
	clearScoutEnv(t)
	cfg := Default()
	policy, err := retry.NewPolicy(cfg.RetryConfig())
	require.NoError(t, err, "default retry section must build a policy")
	require.NotNil(t, policy)
}

func TestLoggerConfigConversion(t *testing.T) {
	clearScoutEnv(t)
	cfg := Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.JSON = true

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "scout", lc.Service)
	assert.True(t, lc.JSON)
}
