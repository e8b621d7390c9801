// Package config loads Quill client configuration from the environment and
// an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportConfig holds connection resilience knobs.
type TransportConfig struct {
	// HeartbeatInterval is the period between outbound pings.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// BackoffBase is the base reconnect delay; attempt k waits
	// base * 2^(k-1).
	BackoffBase time.Duration `yaml:"backoff_base"`
	// MaxReconnectAttempts caps automatic reconnection attempts.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	// QueueCapacity bounds the outbound message queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// SendMaxRetries is the default per-message retry ceiling for queued
	// sends.
	SendMaxRetries int `yaml:"send_max_retries"`
}

// PushoverConfig holds optional Pushover push delivery credentials. Push
// delivery is disabled unless both Token and UserKey are set.
type PushoverConfig struct {
	// Token is the Pushover application API token.
	Token string `yaml:"token"`
	// UserKey is the destination user key.
	UserKey string `yaml:"user_key"`
	// Priority is the Pushover priority value for messages.
	Priority int `yaml:"priority"`
	// Cooldown is the minimum interval between pushes per conversation.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Enabled reports whether push delivery is configured.
func (p PushoverConfig) Enabled() bool {
	return p.Token != "" && p.UserKey != ""
}

// NotificationsConfig holds notification aggregation knobs.
type NotificationsConfig struct {
	// Cap bounds the in-memory notification store.
	Cap int `yaml:"cap"`
	// RetentionDays is the age-based eviction horizon.
	RetentionDays int `yaml:"retention_days"`
	// SyncInterval is the period between server reconciliations.
	SyncInterval time.Duration `yaml:"sync_interval"`
	// Pushover configures optional push delivery.
	Pushover PushoverConfig `yaml:"pushover"`
}

type Config struct {
	// ServerURL is the base URL of the Quill server.
	ServerURL string `yaml:"server_url"`
	// QuillHome is the directory where Quill stores local state.
	QuillHome string `yaml:"quill_home"`
	// AccessKey is the path to the access token file.
	AccessKey string `yaml:"access_key"`
	// Debug enables verbose logging.
	Debug bool `yaml:"debug"`

	Transport     TransportConfig     `yaml:"transport"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// Load loads configuration from environment and defaults. When
// QUILL_CONFIG_FILE points at a YAML file, its values overlay the result.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	quillHome := os.Getenv("QUILL_HOME_DIR")
	if quillHome == "" {
		quillHome = filepath.Join(homeDir, ".quill")
	}
	if err := os.MkdirAll(quillHome, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create quill home: %w", err)
	}

	serverURL := os.Getenv("QUILL_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.quillchat.dev"
	}

	debug := os.Getenv("QUILL_DEBUG") == "true" || os.Getenv("QUILL_DEBUG") == "1"

	cfg := &Config{
		ServerURL: serverURL,
		QuillHome: quillHome,
		AccessKey: filepath.Join(quillHome, "access.key"),
		Debug:     debug,
		Transport: TransportConfig{
			HeartbeatInterval:    envDuration("QUILL_HEARTBEAT_INTERVAL", 30*time.Second),
			BackoffBase:          envDuration("QUILL_BACKOFF_BASE", 5*time.Second),
			MaxReconnectAttempts: envInt("QUILL_MAX_RECONNECT_ATTEMPTS", 10),
			QueueCapacity:        envInt("QUILL_QUEUE_CAPACITY", 100),
			SendMaxRetries:       envInt("QUILL_SEND_MAX_RETRIES", 3),
		},
		Notifications: NotificationsConfig{
			Cap:           envInt("QUILL_NOTIFICATION_CAP", 100),
			RetentionDays: envInt("QUILL_NOTIFICATION_RETENTION_DAYS", 7),
			SyncInterval:  envDuration("QUILL_NOTIFICATION_SYNC_INTERVAL", time.Minute),
			Pushover: PushoverConfig{
				Token:    os.Getenv("QUILL_PUSHOVER_TOKEN"),
				UserKey:  os.Getenv("QUILL_PUSHOVER_USER_KEY"),
				Priority: envInt("QUILL_PUSHOVER_PRIORITY", 0),
				Cooldown: envDuration("QUILL_PUSHOVER_COOLDOWN", 5*time.Minute),
			},
		},
	}

	if path := os.Getenv("QUILL_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overlayFile reads a YAML config file, expands environment variables in
// its contents, and unmarshals over the receiver.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return nil
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
