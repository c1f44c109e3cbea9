package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestHome(t *testing.T, body string) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), ".phlexi-push")
	require.NoError(t, os.MkdirAll(home, 0o755))
	t.Setenv(EnvHome, home)
	if body != "" {
		require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFilePath), []byte(body), 0o644))
	}
	return home
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	home := createTestHome(t, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, home, cfg.HomeDir)
	assert.Equal(t, "http://localhost:8080/", cfg.Endpoint.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Endpoint.HandshakeTimeout)
	assert.Equal(t, time.Duration(0), cfg.Endpoint.ReadTimeout)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Reconnect.Delay)
	assert.Equal(t, filepath.Join(home, StateFilePath), cfg.StatePath())
	assert.Equal(t, slog.LevelWarn, cfg.Log.SlogLevel())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	createTestHome(t, `
[endpoint]
base_url = "https://api.phlexileads.com/"
read_timeout = "90s"

[reconnect]
max_attempts = 10
delay = "500ms"

[state]
file = "$PHLEXI_TEST_STATE/state.json"

[log]
level = "debug"
`)
	t.Setenv("PHLEXI_TEST_STATE", "/var/lib/phlexi")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.phlexileads.com/", cfg.Endpoint.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Endpoint.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Endpoint.WriteTimeout)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.Delay)
	assert.Equal(t, "/var/lib/phlexi/state.json", cfg.StatePath())
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	createTestHome(t, `
[reconnect]
max_attempts = 10
`)
	t.Setenv("PHLEXI_PUSH_RECONNECT_MAX_ATTEMPTS", "-1")
	t.Setenv("PHLEXI_PUSH_METRICS_LISTEN_ADDR", ":9464")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, ":9464", cfg.Metrics.ListenAddr)
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	createTestHome(t, "[endpoint\nbase_url = ")

	_, err := Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty base url", func(c *Config) { c.Endpoint.BaseURL = "" }, "endpoint: base_url is required"},
		{"bad scheme", func(c *Config) { c.Endpoint.BaseURL = "ftp://push.local/" }, "endpoint: base_url scheme"},
		{"no host", func(c *Config) { c.Endpoint.BaseURL = "https:///" }, "endpoint: base_url has no host"},
		{"negative delay", func(c *Config) { c.Reconnect.Delay = -time.Second }, "reconnect: delay must be >= 0"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log: invalid level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWrite_PrintsMergedConfig(t *testing.T) {
	createTestHome(t, `
[endpoint]
base_url = "https://api.phlexileads.com/"
`)

	var out bytes.Buffer
	require.NoError(t, Write(&out))

	got := out.String()
	assert.Contains(t, got, "[endpoint]")
	assert.Contains(t, got, "base_url = 'https://api.phlexileads.com/'")
	assert.Contains(t, got, "delay = '3s'")
	assert.Contains(t, got, "[reconnect]")
}
