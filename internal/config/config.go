// Package config loads todosync configuration from file and environment.
//
// Configuration is read from todosync.yaml (working directory or
// $HOME/.todosync), with TODOSYNC_* environment variables taking precedence.
// The file is watched; the reload callback lets long-running processes pick
// up interval changes without a restart.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// HubConfig configures the WebSocket fan-out hub.
type HubConfig struct {
	Port int    `mapstructure:"port"`
	URL  string `mapstructure:"url"`
}

// StoreConfig configures the Task Store server and client.
type StoreConfig struct {
	Port   int    `mapstructure:"port"`
	URL    string `mapstructure:"url"`
	DBPath string `mapstructure:"db_path"`
}

// SyncConfig configures the sync engine.
type SyncConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts"`
}

// AgentConfig configures the conversational agent.
type AgentConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// LogConfig configures log output. An empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full todosync configuration.
type Config struct {
	Hub   HubConfig   `mapstructure:"hub"`
	Store StoreConfig `mapstructure:"store"`
	Sync  SyncConfig  `mapstructure:"sync"`
	Agent AgentConfig `mapstructure:"agent"`
	Log   LogConfig   `mapstructure:"log"`
}

// Loader reads configuration and watches it for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults registered.
func NewLoader() *Loader {
	v := viper.New()

	v.SetConfigName("todosync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.todosync")

	v.SetEnvPrefix("TODOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("hub.port", 8080)
	v.SetDefault("hub.url", "ws://localhost:8080")
	v.SetDefault("store.port", 8081)
	v.SetDefault("store.url", "http://localhost:8081")
	v.SetDefault("store.db_path", ".todosync/todos.db")
	v.SetDefault("sync.poll_interval", 30*time.Second)
	v.SetDefault("sync.reconnect_base_delay", 500*time.Millisecond)
	v.SetDefault("sync.reconnect_max_attempts", 5)
	v.SetDefault("agent.model", "claude-sonnet-4-20250514")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	return &Loader{v: v}
}

// Load reads the configuration. A missing config file is not an error;
// defaults and environment variables apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the configuration whenever the file changes and hands the
// result to onChange. Unparseable edits are reported and skipped; the
// previous configuration stays in effect.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("config reload after %s of %s failed: %w", e.Op, e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}
