package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper-server", "whisper-native", "openai"},
	"classifier":  {"openai", "anyllm", "keyword"},
}

// Load reads the YAML configuration file at path, overlays environment
// variables, and returns a validated [Config]. A missing file is not an
// error; defaults plus the environment are used instead.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			ApplyEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment
// variables, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays NIGHTJAR_* environment variables onto cfg. Environment
// values win over file values so deployments can override without editing
// the config file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("NIGHTJAR_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("NIGHTJAR_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v := os.Getenv("NIGHTJAR_DATABASE"); v != "" {
		cfg.Storage.Database = v
	}
	if v := os.Getenv("NIGHTJAR_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("NIGHTJAR_RETENTION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.MaxAge = d
		} else {
			slog.Warn("ignoring unparsable NIGHTJAR_RETENTION_MAX_AGE", "value", v, "err", err)
		}
	}
	if v := os.Getenv("NIGHTJAR_RETENTION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.SweepInterval = d
		} else {
			slog.Warn("ignoring unparsable NIGHTJAR_RETENTION_SWEEP_INTERVAL", "value", v, "err", err)
		}
	}
	if v := os.Getenv("NIGHTJAR_ALERT_PHRASES"); v != "" {
		var phrases []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, p)
			}
		}
		cfg.Alerts.Phrases = phrases
	}
	if v := os.Getenv("NIGHTJAR_TRANSCRIBER"); v != "" {
		cfg.Providers.Transcriber.Name = v
	}
	if v := os.Getenv("NIGHTJAR_CLASSIFIER"); v != "" {
		cfg.Providers.Classifier.Name = v
	}
	if v := os.Getenv("NIGHTJAR_API_KEY"); v != "" {
		if cfg.Providers.Transcriber.APIKey == "" {
			cfg.Providers.Transcriber.APIKey = v
		}
		if cfg.Providers.Classifier.APIKey == "" {
			cfg.Providers.Classifier.APIKey = v
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("server.ping_interval %s must not be negative", cfg.Server.PingInterval))
	}

	if cfg.Storage.Database == "" {
		errs = append(errs, errors.New("storage.database is required"))
	}
	if cfg.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}

	if cfg.Retention.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("retention.max_age %s must be positive", cfg.Retention.MaxAge))
	}
	if cfg.Retention.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("retention.sweep_interval %s must be positive", cfg.Retention.SweepInterval))
	}

	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("classifier", cfg.Providers.Classifier.Name)
	for i, fb := range cfg.Providers.TranscriberFallbacks {
		validateProviderName("transcriber", fb.Name)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.ClassifierFallbacks {
		validateProviderName("classifier", fb.Name)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.classifier_fallbacks[%d].name is required", i))
		}
	}

	if cfg.Providers.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber.name is required"))
	}
	if cfg.Providers.Classifier.Name == "" {
		slog.Warn("no classifier configured; only the built-in keyword matcher will raise alerts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
