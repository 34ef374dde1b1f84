package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPort is the port the helpdesk listens on when the endpoints are
// derived from a bare host name.
const DefaultPort = 3000

// APIConfig holds settings for the REST client.
type APIConfig struct {
	// BaseURL overrides the derived REST endpoint
	// (e.g., https://helpdesk.example.com/api).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds each HTTP request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// PushConfig holds settings for the push channel.
type PushConfig struct {
	// URL overrides the derived push endpoint.
	URL string `mapstructure:"url" yaml:"url"`

	// ReconnectDelayMS is the fixed delay between reconnect attempts.
	ReconnectDelayMS int `mapstructure:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`

	// Transports lists the transports to try, in order.
	Transports []string `mapstructure:"transports" yaml:"transports"`
}

// SyncConfig holds settings for background reconciliation.
type SyncConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	// CachePath is the SQLite file holding the last notification snapshot.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// CredentialDir is the directory used by the file keyring backend.
	CredentialDir string `mapstructure:"credential_dir" yaml:"credential_dir"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// Host is the helpdesk host name used to derive endpoints when no
	// explicit URL is configured.
	Host string `mapstructure:"host" yaml:"host"`

	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Push    PushConfig    `mapstructure:"push" yaml:"push"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
}

// Endpoints are the resolved REST and push URLs.
type Endpoints struct {
	API  string
	Push string
}

// Endpoints resolves the REST and push URLs. Each is taken from its
// explicit override, else derived from Host on DefaultPort, else the
// localhost fallback.
func (c *AppConfig) Endpoints() Endpoints {
	host := strings.TrimSpace(c.Host)

	origin := fmt.Sprintf("http://localhost:%d", DefaultPort)
	if host != "" {
		origin = fmt.Sprintf("http://%s:%d", host, DefaultPort)
	}

	e := Endpoints{
		API:  origin + "/api",
		Push: origin,
	}
	if u := strings.TrimSpace(c.API.BaseURL); u != "" {
		e.API = strings.TrimRight(u, "/")
	}
	if u := strings.TrimSpace(c.Push.URL); u != "" {
		e.Push = strings.TrimRight(u, "/")
	}
	return e
}

// configDir returns ~/.config/ticketdesk, or the working directory when
// the home directory cannot be determined.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ticketdesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/ticketdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			TimeoutSec: 30,
		},
		Push: PushConfig{
			ReconnectDelayMS: 1000,
			Transports:       []string{"websocket", "polling"},
		},
		Sync: SyncConfig{
			PollIntervalSec: 60,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			CachePath:     filepath.Join(configDir(), "cache.db"),
			CredentialDir: filepath.Join(configDir(), "credentials"),
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and applies TICKETDESK_* environment overrides. A missing file yields the
// defaults.
func LoadConfig(path string) (*AppConfig, error) {
	def := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("host", def.Host)
	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout_sec", def.API.TimeoutSec)
	v.SetDefault("push.url", def.Push.URL)
	v.SetDefault("push.reconnect_delay_ms", def.Push.ReconnectDelayMS)
	v.SetDefault("push.transports", def.Push.Transports)
	v.SetDefault("sync.poll_interval_sec", def.Sync.PollIntervalSec)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("storage.cache_path", def.Storage.CachePath)
	v.SetDefault("storage.credential_dir", def.Storage.CredentialDir)
	v.SetDefault("display.theme", def.Display.Theme)

	v.SetEnvPrefix("ticketdesk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.base_url", "TICKETDESK_API_URL")
	_ = v.BindEnv("push.url", "TICKETDESK_PUSH_URL")

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.API.TimeoutSec <= 0 {
		cfg.API.TimeoutSec = def.API.TimeoutSec
	}
	if cfg.Push.ReconnectDelayMS <= 0 {
		cfg.Push.ReconnectDelayMS = def.Push.ReconnectDelayMS
	}
	if len(cfg.Push.Transports) == 0 {
		cfg.Push.Transports = def.Push.Transports
	}

	return cfg, nil
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

	v.Set("host", cfg.Host)
	v.Set("api", cfg.API)
	v.Set("push", cfg.Push)
	v.Set("sync", cfg.Sync)
	v.Set("log", cfg.Log)
	v.Set("storage", cfg.Storage)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
