package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FLEETDASH_BACKEND_BASE_URL.
const EnvPrefix = "FLEETDASH"

// BackendConfig points at the fleet REST API.
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// PushConfig selects the push transport.
type PushConfig struct {
	// Transport is "websocket" or "nats".
	Transport string `mapstructure:"transport" yaml:"transport"`

	// URL is the websocket endpoint or the NATS server URL.
	URL string `mapstructure:"url" yaml:"url"`

	// Subject is the NATS subject carrying feed events.
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// ReconnectConfig controls the push channel backoff.
type ReconnectConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Jitter    float64       `mapstructure:"jitter" yaml:"jitter"`
}

// CacheConfig controls the local snapshot cache.
type CacheConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Path         string        `mapstructure:"path" yaml:"path"`
	SaveInterval time.Duration `mapstructure:"save_interval" yaml:"save_interval"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme  string     `mapstructure:"theme" yaml:"theme"`
	Filter FeedFilter `mapstructure:"filter" yaml:"filter"`
}

// LogConfig controls the application logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Push      PushConfig      `mapstructure:"push" yaml:"push"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Display   DisplayConfig   `mapstructure:"display" yaml:"display"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ConfigDir returns ~/.config/fleetdash, or "." if the home directory is
// unknown.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fleetdash")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/fleetdash/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 30 * time.Second,
		},
		Push: PushConfig{
			Transport: "websocket",
			URL:       "ws://localhost:8080/ws",
			Subject:   "fleet.notifications",
		},
		Reconnect: ReconnectConfig{
			BaseDelay: time.Second,
			MaxDelay:  30 * time.Second,
			Jitter:    0.2,
		},
		Cache: CacheConfig{
			Enabled:      true,
			Path:         filepath.Join(ConfigDir(), "feed.db"),
			SaveInterval: 5 * time.Second,
		},
		Display: DisplayConfig{
			Theme:  "default",
			Filter: DefaultFeedFilter(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(ConfigDir(), "fleetdash.log"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("backend.base_url", d.Backend.BaseURL)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("push.transport", d.Push.Transport)
	v.SetDefault("push.url", d.Push.URL)
	v.SetDefault("push.subject", d.Push.Subject)
	v.SetDefault("reconnect.base_delay", d.Reconnect.BaseDelay)
	v.SetDefault("reconnect.max_delay", d.Reconnect.MaxDelay)
	v.SetDefault("reconnect.jitter", d.Reconnect.Jitter)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.save_interval", d.Cache.SaveInterval)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.filter.type", string(d.Display.Filter.Type))
	v.SetDefault("display.filter.status", string(d.Display.Filter.Status))
	v.SetDefault("display.filter.search", "")
	v.SetDefault("display.filter.sort", string(d.Display.Filter.SortBy))
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", "")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper, path string) (*AppConfig, error) {
	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Display.Filter = cfg.Display.Filter.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with FLEETDASH_ override file values.
// If the file does not exist, defaults (plus overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	return decode(v, path)
}

// Validate rejects settings the feed cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Push.Transport {
	case "websocket", "nats":
	default:
		return fmt.Errorf("unknown push transport %q", c.Push.Transport)
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect.base_delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay must be >= base_delay")
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		return fmt.Errorf("reconnect.jitter must be within [0,1]")
	}
	return nil
}

// WatchConfig re-reads the file at path whenever it changes on disk and
// hands the result to onChange. Parse errors are passed through so the
// caller can keep its previous configuration.
func WatchConfig(path string, onChange func(*AppConfig, error)) error {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(decode(v, path))
	})
	v.WatchConfig()
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("backend.base_url", cfg.Backend.BaseURL)
	v.Set("backend.timeout", cfg.Backend.Timeout.String())
	v.Set("push", cfg.Push)
	v.Set("reconnect.base_delay", cfg.Reconnect.BaseDelay.String())
	v.Set("reconnect.max_delay", cfg.Reconnect.MaxDelay.String())
	v.Set("reconnect.jitter", cfg.Reconnect.Jitter)
	v.Set("cache.enabled", cfg.Cache.Enabled)
	v.Set("cache.path", cfg.Cache.Path)
	v.Set("cache.save_interval", cfg.Cache.SaveInterval.String())
	v.Set("display.theme", cfg.Display.Theme)
	v.Set("display.filter.type", string(cfg.Display.Filter.Type))
	v.Set("display.filter.status", string(cfg.Display.Filter.Status))
	v.Set("display.filter.search", cfg.Display.Filter.Search)
	v.Set("display.filter.sort", string(cfg.Display.Filter.SortBy))
	v.Set("log", cfg.Log)
	v.Set("metrics", cfg.Metrics)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
