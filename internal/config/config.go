package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultHTTPAddr         = "127.0.0.1:21329"
	DefaultConnectTimeoutMS = 2000
	DefaultReplyTimeoutMS   = 1000
	DefaultRescanIntervalMS = 1000
)

// Environment variables overriding the file values
const (
	EnvHTTPAddr    = "V2_HTTP_ADDR"
	EnvDownloadURL = "V2_DOWNLOAD_URL"
	EnvLogLevel    = "V2_LOG_LEVEL"
)

// Config holds application configuration
type Config struct {
	ID               string `json:"id" validate:"required,uuid"`
	LastDevice       string `json:"last_device,omitempty"`        // input port name of the last connected device
	AutoConnect      bool   `json:"auto_connect"`                 // reconnect LastDevice when it appears
	OpenAtStartup    bool   `json:"open_at_startup"`              // start the bridge at login
	HTTPAddr         string `json:"http_addr" validate:"required,hostname_port"`
	DownloadOverride string `json:"download_override,omitempty" validate:"omitempty,url"` // replaces the device's firmware download URL
	LogLevel         string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`
	ConnectTimeoutMS int    `json:"connect_timeout_ms" validate:"min=100,max=60000"`
	ReplyTimeoutMS   int    `json:"reply_timeout_ms" validate:"min=100,max=60000"`
	RescanIntervalMS int    `json:"rescan_interval_ms" validate:"min=100,max=60000"`

	path string
}

// Default returns a config with a new installation ID
func Default() *Config {
	return &Config{
		ID:               uuid.New().String(),
		AutoConnect:      true,
		HTTPAddr:         DefaultHTTPAddr,
		ConnectTimeoutMS: DefaultConnectTimeoutMS,
		ReplyTimeoutMS:   DefaultReplyTimeoutMS,
		RescanIntervalMS: DefaultRescanIntervalMS,
	}
}

// configDir returns the platform-appropriate config directory
func configDir() (string, error) {
	configHome, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configHome, "v2configure"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from the default location
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the config at path, returning defaults if not found
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.path = path
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.path = path

	// Older files may lack fields
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	return cfg, nil
}

// Save writes the config to the file it was loaded from
func (c *Config) Save() error {
	if c.path == "" {
		configPath, err := ConfigPath()
		if err != nil {
			return err
		}
		c.path = configPath
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// Path returns the file backing the config
func (c *Config) Path() string {
	return c.path
}

// ApplyEnv overrides values with the environment variables that are set
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvHTTPAddr); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv(EnvDownloadURL); v != "" {
		c.DownloadOverride = strings.TrimSuffix(v, "/")
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

var validate = validator.New()

// Validate checks all fields and reports every invalid one
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMS) * time.Millisecond
}

func (c *Config) RescanInterval() time.Duration {
	return time.Duration(c.RescanIntervalMS) * time.Millisecond
}
