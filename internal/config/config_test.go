package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2configure", "config.json")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	_, err = uuid.Parse(cfg.ID)
	assert.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.True(t, cfg.AutoConnect)
	assert.Equal(t, 2*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, time.Second, cfg.ReplyTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v2configure", "config.json")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	cfg.LastDevice = "V2 Pad"
	cfg.RescanIntervalMS = 500
	require.NoError(t, cfg.Save())

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, loaded.ID)
	assert.Equal(t, "V2 Pad", loaded.LastDevice)
	assert.Equal(t, 500*time.Millisecond, loaded.RescanInterval())
	assert.Equal(t, path, loaded.Path())
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"last_device": "V2 Knob"}`), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.ID)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultReplyTimeoutMS, cfg.ReplyTimeoutMS)
	assert.Equal(t, "V2 Knob", cfg.LastDevice)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvHTTPAddr:    "127.0.0.1:9000",
		EnvDownloadURL: "https://example.com/firmware/",
		EnvLogLevel:    "DEBUG",
	}

	cfg := Default()
	cfg.ApplyEnv(func(key string) string { return env[key] })

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, "https://example.com/firmware", cfg.DownloadOverride)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"address", func(c *Config) { c.HTTPAddr = "localhost" }, "HTTPAddr"},
		{"download", func(c *Config) { c.DownloadOverride = "not a url" }, "DownloadOverride"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "LogLevel"},
		{"timeout", func(c *Config) { c.ReplyTimeoutMS = 10 }, "ReplyTimeoutMS"},
		{"id", func(c *Config) { c.ID = "x" }, "ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
