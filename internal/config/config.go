// Package config provides the configuration schema, loader, and provider
// registry for the Nightjar hub.
package config

import "time"

// LogLevel controls log verbosity for the hub.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the hub.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overlaid with environment variables via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Retention RetentionConfig `yaml:"retention"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the hub.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// PingInterval is how often the hub pings idle device connections.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Database is either a filesystem path for the embedded SQLite store or a
	// postgres:// DSN. The scheme decides which backend is used.
	Database string `yaml:"database"`

	// DataDir is the root directory for raw audio recordings.
	DataDir string `yaml:"data_dir"`
}

// RetentionConfig controls the background sweeper that deletes old recordings.
type RetentionConfig struct {
	// MaxAge is how long raw audio files are kept before deletion.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepInterval is how often the sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AlertsConfig tunes the keyword fallback classifier.
type AlertsConfig struct {
	// Phrases lists trigger phrases matched as whole words, case-insensitively.
	// When empty a built-in default list is used.
	Phrases []string `yaml:"phrases"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry]. The optional fallback lists name additional backends tried in
// order when the one before them fails or has a tripped circuit breaker.
type ProvidersConfig struct {
	Transcriber          ProviderEntry   `yaml:"transcriber"`
	TranscriberFallbacks []ProviderEntry `yaml:"transcriber_fallbacks"`
	Classifier           ProviderEntry   `yaml:"classifier"`
	ClassifierFallbacks  []ProviderEntry `yaml:"classifier_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "whisper-server", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// Default returns a Config populated with sensible defaults. Loading a file
// or applying environment variables overrides individual fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8090",
			LogLevel:     LogInfo,
			PingInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Database: "nightjar.db",
			DataDir:  "data",
		},
		Retention: RetentionConfig{
			MaxAge:        72 * time.Hour,
			SweepInterval: time.Hour,
		},
		Providers: ProvidersConfig{
			Transcriber: ProviderEntry{Name: "whisper-server"},
			Classifier:  ProviderEntry{Name: "keyword"},
		},
	}
}
