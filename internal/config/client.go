package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

const DefaultClientTimeout = 90 * time.Second

// ClientConfig holds configuration for the relay client binary.
type ClientConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	LogLevel   string        `yaml:"log_level"`
	ConfigFile string        `yaml:"-"`
}

// SetDefaults initializes unset fields with built-in defaults.
func (c *ClientConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultClientTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("client.yaml")
	}
}

// LoadFile populates the config from a YAML file.
func (c *ClientConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decodeYAML(b, c, "timeout"); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ClientConfig) ApplyEnv() {
	if v := GetEnv("PROMPTRELAY_BASE_URL", ""); v != "" {
		c.BaseURL = v
	}
	if v := GetEnv("PROMPTRELAY_TIMEOUT", ""); v != "" {
		if d, err := ParseDuration(v); err == nil {
			c.Timeout = d
		}
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
}

// BindFlags binds command line flags using the current config values as
// defaults.
func (c *ClientConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "client config file path")
	fs.StringVar(&c.BaseURL, "base-url", c.BaseURL, "base URL of the deployment exposing the relay endpoint")
	fs.Var(durationValue{&c.Timeout}, "timeout", "overall request timeout (duration such as 90s, or seconds)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
}

// Load resolves the configuration from defaults, the YAML config file,
// environment variables and args, in increasing precedence.
func (c *ClientConfig) Load(fs *flag.FlagSet, args []string) error {
	c.SetDefaults()
	c.ConfigFile = ConfigFileFromArgs(args, GetEnv("PROMPTRELAY_CONFIG", c.ConfigFile))
	if err := c.LoadFile(c.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.ApplyEnv()
	c.BindFlags(fs)
	return fs.Parse(args)
}

// Validate fails fast when the relay endpoint location is unknown.
func (c *ClientConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return ErrMissingBaseURL
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}
