package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HUBCORE_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.Streams.Sensors.PollWait)
	assert.Equal(t, 5*time.Second, cfg.Streams.Hubs.PollWait)
	assert.Equal(t, 200*time.Millisecond, cfg.Streams.Snapshots.PollWait)
	assert.Equal(t, 3*time.Second, cfg.ShutdownWait)
	assert.Equal(t, TransportLog, cfg.Actuator.Transport)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hubcore.yaml")
	data := []byte(`
log_level: debug
nats:
  url: nats://broker:4222
streams:
  hubs:
    poll_wait: 2s
actuator:
  transport: http
  base_url: http://actuator:8080
  timeout: 750ms
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("HUBCORE_CONFIG", path)
	t.Setenv("HUBCORE_NATS_URL", "nats://override:4222")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 2*time.Second, cfg.Streams.Hubs.PollWait)
	assert.Equal(t, "HUBS", cfg.Streams.Hubs.Name, "unset yaml fields keep defaults")
	assert.Equal(t, 750*time.Millisecond, cfg.Actuator.Timeout)
	assert.Equal(t, TransportHTTP, cfg.Actuator.Transport)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("HUBCORE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad level":         func(c *Config) { c.LogLevel = "verbose" },
		"no nats":           func(c *Config) { c.NATS.URL = "" },
		"no durable":        func(c *Config) { c.Streams.Sensors.Durable = "" },
		"shared durable":    func(c *Config) { c.Streams.Snapshots.Durable = c.Streams.Hubs.Durable },
		"http without url":  func(c *Config) { c.Actuator.Transport = TransportHTTP },
		"mqtt w/o broker":   func(c *Config) { c.Actuator.Transport = TransportMQTT },
		"unknown transport": func(c *Config) { c.Actuator.Transport = "grpc" },
		"zero poll":         func(c *Config) { c.Streams.Hubs.PollWait = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}
