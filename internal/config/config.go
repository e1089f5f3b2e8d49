package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config describes the top-level application configuration loaded from YAML and ENV.
type Config struct {
	Version   string                    `mapstructure:"version"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Agent     AgentConfig               `mapstructure:"agent"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit"`
	Desktop   DesktopConfig             `mapstructure:"desktop"`
	Steps     StepsConfig               `mapstructure:"steps"`
	Runs      RunsConfig                `mapstructure:"runs"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Server    ServerConfig              `mapstructure:"server"`
}

// ProviderConfig represents a model provider endpoint.
type ProviderConfig struct {
	Type       string        `mapstructure:"type"` // anthropic
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	APIKeyFile string        `mapstructure:"api_key_file"` // read when api_key is empty
	Timeout    time.Duration `mapstructure:"timeout"`      // response header timeout
}

// ModelConfig binds a logical model name to a provider entry and model parameters.
type ModelConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Default   bool   `mapstructure:"default"`
}

// AgentConfig describes loop runtime parameters.
type AgentConfig struct {
	Model              string `mapstructure:"model"` // logical model; default model when empty
	MaxIterations      int    `mapstructure:"max_iterations"`
	MaxTokens          int    `mapstructure:"max_tokens"`
	HistoryWindow      int    `mapstructure:"history_window"`
	EmptyStreamRetries int    `mapstructure:"empty_stream_retries"`
	SystemPromptFile   string `mapstructure:"system_prompt_file"`
	ProcessTextFile    string `mapstructure:"process_text_file"`
}

// RateLimitConfig tunes throttling behaviour around the provider.
type RateLimitConfig struct {
	Fudge             time.Duration `mapstructure:"fudge"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"` // 0 disables pacing
}

// DesktopConfig configures the X11 effector.
type DesktopConfig struct {
	Display           string        `mapstructure:"display"`
	XDoTool           string        `mapstructure:"xdotool"`
	ScreenshotCommand []string      `mapstructure:"screenshot_command"`
	ScreenshotDir     string        `mapstructure:"screenshot_dir"`
	DisplayWidth      int           `mapstructure:"display_width"`
	DisplayHeight     int           `mapstructure:"display_height"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ScrollMultiplier  int           `mapstructure:"scroll_multiplier"`
	TypeDelay         time.Duration `mapstructure:"type_delay"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
}

// StepsConfig selects the process step graph backend.
type StepsConfig struct {
	Backend         string `mapstructure:"backend"` // none, memory, postgres
	File            string `mapstructure:"file"`
	DSN             string `mapstructure:"dsn"`
	DSNPasswordFile string `mapstructure:"dsn_password_file"`
}

// RunsConfig controls where run artifacts are written.
type RunsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls logger behaviour.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // console or json
	File       string `mapstructure:"file"`   // optional rotated JSON log
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig describes daemon settings.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	Transport      string `mapstructure:"transport"` // connect or ndjson
}

// Load reads configuration from the provided path or defaults to configs/config.yaml.
// Environment variables override file values (prefix: DESKPILOT_, dots replaced with underscores).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DESKPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			v.SetConfigName("config.example")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults populates sensible defaults for optional fields.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", false)

	v.SetDefault("agent.max_iterations", 200)
	v.SetDefault("agent.max_tokens", 4096)
	v.SetDefault("agent.history_window", 60)
	v.SetDefault("agent.empty_stream_retries", 2)

	v.SetDefault("ratelimit.fudge", 500*time.Millisecond)
	v.SetDefault("ratelimit.requests_per_minute", 0)

	v.SetDefault("desktop.xdotool", "xdotool")
	v.SetDefault("desktop.screenshot_command", []string{"import", "-window", "root", "png:-"})
	v.SetDefault("desktop.screenshot_dir", "./screenshots")
	v.SetDefault("desktop.display_width", 1280)
	v.SetDefault("desktop.display_height", 800)
	v.SetDefault("desktop.settle_delay", 200*time.Millisecond)
	v.SetDefault("desktop.scroll_multiplier", 100)
	v.SetDefault("desktop.type_delay", 12*time.Millisecond)
	v.SetDefault("desktop.command_timeout", 10*time.Second)

	v.SetDefault("steps.backend", "none")

	v.SetDefault("runs.dir", ".")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("server.transport", "connect")
}

// ReadSecret returns the trimmed content of a secret file.
func ReadSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) resolveSecrets() error {
	for name, p := range c.Providers {
		if p.APIKey != "" || p.APIKeyFile == "" {
			continue
		}
		key, err := ReadSecret(p.APIKeyFile)
		if err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		p.APIKey = key
		c.Providers[name] = p
	}
	return nil
}

// Validate performs basic sanity checks on configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	for name, p := range c.Providers {
		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "anthropic":
		case "":
			return fmt.Errorf("provider %q must specify type", name)
		default:
			return fmt.Errorf("provider %q has unsupported type %q", name, p.Type)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %q timeout cannot be negative", name)
		}
	}

	if len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}

	defaultFound := false
	for name, m := range c.Models {
		if strings.TrimSpace(m.Provider) == "" {
			return fmt.Errorf("model %q must reference provider", name)
		}
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("model %q references unknown provider %q", name, m.Provider)
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("model %q must specify model", name)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model %q max_tokens cannot be negative", name)
		}
		if m.Default {
			defaultFound = true
		}
	}

	if !defaultFound {
		return errors.New("at least one model should be marked as default")
	}

	if c.Agent.Model != "" {
		if _, ok := c.Models[c.Agent.Model]; !ok {
			return fmt.Errorf("agent.model references unknown model %q", c.Agent.Model)
		}
	}
	if c.Agent.MaxIterations <= 0 {
		return errors.New("agent.max_iterations must be > 0")
	}
	if c.Agent.MaxTokens <= 0 {
		return errors.New("agent.max_tokens must be > 0")
	}
	if c.Agent.HistoryWindow <= 0 || c.Agent.HistoryWindow%2 != 0 {
		return fmt.Errorf("agent.history_window must be a positive even number, got %d", c.Agent.HistoryWindow)
	}
	if c.Agent.EmptyStreamRetries < 0 {
		return errors.New("agent.empty_stream_retries must be >= 0")
	}

	if c.RateLimit.Fudge < 0 {
		return errors.New("ratelimit.fudge must be >= 0")
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return errors.New("ratelimit.requests_per_minute must be >= 0")
	}

	if c.Desktop.DisplayWidth <= 0 || c.Desktop.DisplayHeight <= 0 {
		return errors.New("desktop.display_width and desktop.display_height must be > 0")
	}
	if c.Desktop.SettleDelay < 0 {
		return errors.New("desktop.settle_delay must be >= 0")
	}
	if c.Desktop.ScrollMultiplier <= 0 {
		return errors.New("desktop.scroll_multiplier must be > 0")
	}
	if c.Desktop.CommandTimeout <= 0 {
		return errors.New("desktop.command_timeout must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Steps.Backend)) {
	case "", "none":
	case "memory":
		if strings.TrimSpace(c.Steps.File) == "" {
			return errors.New("steps.file must be set for the memory backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Steps.DSN) == "" {
			return errors.New("steps.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("steps.backend must be one of none, memory, postgres, got %q", c.Steps.Backend)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}

	switch strings.ToLower(strings.TrimSpace(c.Server.Transport)) {
	case "", "connect", "ndjson":
	default:
		return fmt.Errorf("server.transport must be one of connect or ndjson, got %q", c.Server.Transport)
	}

	return nil
}
