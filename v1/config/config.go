// Package config loads teamcal settings from file, environment and flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-teamcal/v1/lock"
	"github.com/mirkobrombin/go-teamcal/v1/realtime"
)

// EnvPrefix prefixes environment overrides, e.g. TEAMCAL_SERVER_BASE_URL
// for server.base_url.
const EnvPrefix = "TEAMCAL"

// Config is the full configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Lock     LockConfig     `mapstructure:"lock"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Dev      DevConfig      `mapstructure:"dev"`
}

// ServerConfig locates the calendar backend.
type ServerConfig struct {
	// BaseURL is the application origin, e.g. https://cal.example.com.
	BaseURL string `mapstructure:"base_url"`
	// APIPath is appended to BaseURL for the lock endpoints.
	APIPath string `mapstructure:"api_path"`
	// WebSocketURL overrides the broker endpoint derived from BaseURL.
	WebSocketURL string `mapstructure:"websocket_url"`
	// Host is sent in CONNECT; defaults to the host of BaseURL.
	Host string `mapstructure:"host"`
	// Session is the session cookie value to authenticate with.
	Session string `mapstructure:"session"`
}

// LockConfig tunes the lease coordinator.
type LockConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// RealtimeConfig tunes reconnects.
type RealtimeConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	// Listen is the address serving /metrics; empty disables it.
	Listen string `mapstructure:"listen"`
}

// DevConfig drives the local development server.
type DevConfig struct {
	Listen    string        `mapstructure:"listen"`
	RedisAddr string        `mapstructure:"redis_addr"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			APIPath: "/api",
		},
		Lock: LockConfig{HeartbeatInterval: lock.HeartbeatInterval},
		Realtime: RealtimeConfig{
			BaseDelay: realtime.DefaultBackoff.Base,
			MaxDelay:  realtime.DefaultBackoff.Max,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Dev: DevConfig{
			Listen:  "localhost:8080",
			LockTTL: lock.DefaultTTLSeconds * time.Second,
		},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.base_url", d.Server.BaseURL)
	v.SetDefault("server.api_path", d.Server.APIPath)
	v.SetDefault("server.websocket_url", d.Server.WebSocketURL)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.session", d.Server.Session)
	v.SetDefault("lock.heartbeat_interval", d.Lock.HeartbeatInterval)
	v.SetDefault("realtime.base_delay", d.Realtime.BaseDelay)
	v.SetDefault("realtime.max_delay", d.Realtime.MaxDelay)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("dev.listen", d.Dev.Listen)
	v.SetDefault("dev.redis_addr", d.Dev.RedisAddr)
	v.SetDefault("dev.lock_ttl", d.Dev.LockTTL)
}

// New returns a viper instance with defaults, TEAMCAL_ environment
// overrides and, when file is not empty, the given config file.
func New(file string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("teamcal")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.config/teamcal")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file of v. A missing file is not an error unless
// it was named explicitly.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: server.base_url %q is not an absolute URL", c.Server.BaseURL)
	}
	if c.Lock.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: lock.heartbeat_interval must be positive")
	}
	if c.Realtime.BaseDelay <= 0 || c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("config: realtime delays must satisfy 0 < base_delay <= max_delay")
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// APIURL returns the lock API root.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + c.Server.APIPath
}

// BrokerURL returns the realtime endpoint and the CONNECT host.
func (c *Config) BrokerURL() (string, string, error) {
	endpoint, host, err := realtime.EndpointURL(c.Server.BaseURL)
	if err != nil {
		return "", "", err
	}
	if c.Server.WebSocketURL != "" {
		endpoint = c.Server.WebSocketURL
	}
	if c.Server.Host != "" {
		host = c.Server.Host
	}
	return endpoint, host, nil
}

// Backoff returns the reconnect policy.
func (c *Config) Backoff() realtime.Backoff {
	return realtime.Backoff{Base: c.Realtime.BaseDelay, Max: c.Realtime.MaxDelay}
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("config: logging.level: %w", err)
	}
	return lvl, nil
}
