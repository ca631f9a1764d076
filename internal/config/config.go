package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	State   StateConfig   `mapstructure:"state"`
	Poll    PollConfig    `mapstructure:"poll"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	SSH     SSHConfig     `mapstructure:"ssh"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds control-plane connection configuration
type ServerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StateConfig holds local durable state configuration
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// PollConfig holds node poll cadence configuration
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// MetricsConfig holds the optional metrics listener configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

// SSHConfig holds post-rent SSH verification configuration
type SSHConfig struct {
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("server.timeout", 30*time.Second)

	v.SetDefault("state.path", defaultStatePath())

	v.SetDefault("poll.interval", 30*time.Second)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("ssh.verify_timeout", 2*time.Minute)
	v.SetDefault("ssh.check_interval", 5*time.Second)
	v.SetDefault("ssh.connect_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("server.url", "ORION_SERVER_URL")
	bindEnv("state.path", "ORION_STATE_PATH")
	bindEnv("metrics.addr", "ORION_METRICS_ADDR")
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./orion-deck-state.db"
	}
	return filepath.Join(home, ".orion-deck", "state.db")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.url must be an absolute http(s) URL, got %q", c.Server.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path must not be empty")
	}
	return nil
}
