package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
engine:
  repository: /srv/backups/repo
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scopegate", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Queue.RetryDelay)
	assert.Equal(t, 4, cfg.Pool.MaxSize)
	assert.Equal(t, 10*time.Minute, cfg.Helper.Timeout)
	assert.Equal(t, "restic", cfg.Engine.Binary)
	assert.Equal(t, "/srv/backups/repo", cfg.Engine.Repository)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
service:
  name: gate-test
  log_level: debug
queue:
  max_retries: 1
  retry_delay: 250ms
  poll_interval: 50ms
helper:
  binary: /opt/helper
  timeout: 30s
  termination_grace: 2s
engine:
  binary: /usr/bin/restic
  repository: sftp:backup@host:/repo
  extra_args: ["--limit-upload", "2048"]
api:
  enabled: true
  listen: 127.0.0.1:9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gate-test", cfg.Service.Name)
	assert.Equal(t, 1, cfg.Queue.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.RetryDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, "/opt/helper", cfg.Helper.Binary)
	assert.Equal(t, []string{"--limit-upload", "2048"}, cfg.Engine.ExtraArgs)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "service: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty service name", func(c *Config) { c.Service.Name = "" }, "service.name"},
		{"bad log level", func(c *Config) { c.Service.LogLevel = "verbose" }, "service.log_level"},
		{"empty state path", func(c *Config) { c.State.Path = "" }, "state.path"},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }, "queue.max_retries"},
		{"negative retry delay", func(c *Config) { c.Queue.RetryDelay = -time.Second }, "queue.retry_delay"},
		{"zero poll interval", func(c *Config) { c.Queue.PollInterval = 0 }, "queue.poll_interval"},
		{"zero pool size", func(c *Config) { c.Pool.MaxSize = 0 }, "pool.max_size"},
		{"empty helper binary", func(c *Config) { c.Helper.Binary = "" }, "helper.binary"},
		{"zero helper timeout", func(c *Config) { c.Helper.Timeout = 0 }, "helper.timeout"},
		{"empty engine repository", func(c *Config) { c.Engine.Repository = "" }, "engine.repository"},
		{"api enabled without listen", func(c *Config) { c.API.Enabled = true; c.API.Listen = "" }, "api.listen"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Engine.Repository = "/repo"
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Repository = "/repo"
	assert.NoError(t, cfg.Validate())
}
