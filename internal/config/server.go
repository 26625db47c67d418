package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey is returned when no upstream credential is configured.
	ErrMissingAPIKey = errors.New("config: openai api key is required")
	// ErrMissingBaseURL is returned when the relay client has no endpoint URL.
	ErrMissingBaseURL = errors.New("config: relay base url is required")
)

const (
	DefaultPort           = 8080
	DefaultModel          = "gpt-3.5-turbo"
	DefaultRequestTimeout = 60 * time.Second
	DefaultDrainTimeout   = 30 * time.Second
	DefaultMaxPromptChars = 32768
)

// ServerConfig holds configuration for the relay server.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIModel    string        `yaml:"openai_model"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxPromptChars int           `yaml:"max_prompt_chars"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	LogLevel       string        `yaml:"log_level"`
	RedisAddr      string        `yaml:"redis_addr"`
	ConfigFile     string        `yaml:"-"`
}

// SetDefaults initializes unset fields with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = DefaultModel
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.MaxPromptChars == 0 {
		c.MaxPromptChars = DefaultMaxPromptChars
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// LoadFile populates the config from a YAML file. Fields absent from the file
// keep their current values.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := decodeYAML(b, c, "request_timeout", "drain_timeout"); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := GetEnv("OPENAI_API_KEY", ""); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := GetEnv("OPENAI_MODEL", ""); v != "" {
		c.OpenAIModel = v
	}
	if v := GetEnv("OPENAI_BASE_URL", ""); v != "" {
		c.OpenAIBaseURL = v
	}
	if v := GetEnv("REQUEST_TIMEOUT", ""); v != "" {
		if d, err := ParseDuration(v); err == nil {
			c.RequestTimeout = d
		}
	}
	if v := GetEnv("MAX_PROMPT_CHARS", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPromptChars = n
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
}

// BindFlags binds command line flags using the current config values as
// defaults.
func (c *ServerConfig) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the relay API")
	fs.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", c.OpenAIAPIKey, "upstream OpenAI API key (prefer OPENAI_API_KEY)")
	fs.StringVar(&c.OpenAIModel, "openai-model", c.OpenAIModel, "upstream chat completion model")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", c.OpenAIBaseURL, "override the upstream API base URL")
	fs.Var(durationValue{&c.RequestTimeout}, "request-timeout", "upstream call timeout (duration such as 60s, or seconds)")
	fs.IntVar(&c.MaxPromptChars, "max-prompt-chars", c.MaxPromptChars, "maximum accepted prompt length in characters")
	fs.Var(durationValue{&c.DrainTimeout}, "drain-timeout", "time to wait for in-flight requests on shutdown (duration or seconds; negative waits indefinitely, 0 exits immediately)")
	fs.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for shared server state")
}

// Load resolves the configuration from defaults, the YAML config file,
// environment variables and finally args, in increasing precedence. The
// config file may be missing; any other read error is returned.
func (c *ServerConfig) Load(fs *flag.FlagSet, args []string) error {
	c.SetDefaults()
	c.ConfigFile = ConfigFileFromArgs(args, GetEnv("CONFIG_FILE", c.ConfigFile))
	if err := c.LoadFile(c.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.ApplyEnv()
	c.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	return nil
}

// Validate reports configuration that would prevent the relay from serving.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.OpenAIAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.OpenAIModel == "" {
		return errors.New("config: openai model is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxPromptChars <= 0 {
		return fmt.Errorf("config: max prompt chars must be positive, got %d", c.MaxPromptChars)
	}
	return nil
}

// MetricsOnAPIPort reports whether /metrics is served by the API listener.
func (c *ServerConfig) MetricsOnAPIPort() bool {
	return c.MetricsAddr == "" || c.MetricsAddr == fmt.Sprintf(":%d", c.Port)
}
