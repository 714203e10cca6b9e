// Package device implements the producer side: local configuration, audio
// buffering, the hub session state machine, and remote command handling.
package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the device's local configuration, persisted as JSON so the hub's
// update-config command can rewrite it in place.
type Config struct {
	DeviceID  string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	ServerURL string `json:"server_url"`
	DataDir   string `json:"data_dir"`

	// BufferBytes is the chunk size threshold; a full buffer flushes
	// immediately, a partial one on the flush interval.
	BufferBytes     int   `json:"buffer_bytes"`
	FlushIntervalMS int64 `json:"flush_interval_ms"`

	HeartbeatIntervalMS int64 `json:"heartbeat_interval_ms"`

	ReconnectBaseMS int64   `json:"reconnect_base_ms"`
	ReconnectFactor float64 `json:"reconnect_factor"`
	ReconnectMaxMS  int64   `json:"reconnect_max_ms"`
	RestartGraceMS  int64   `json:"restart_grace_ms"`

	// Voice selects the local speech voice when a renderer is configured.
	Voice string `json:"voice,omitempty"`
}

// DefaultConfig returns the built-in defaults. DeviceID has no default; a
// device will not start without one.
func DefaultConfig() Config {
	return Config{
		Name:                "nightjar device",
		ServerURL:           "ws://localhost:8090/ws",
		DataDir:             "data",
		BufferBytes:         64000, // 2s of 16 kHz mono 16-bit PCM
		FlushIntervalMS:     2000,
		HeartbeatIntervalMS: 30000,
		ReconnectBaseMS:     2000,
		ReconnectFactor:     2,
		ReconnectMaxMS:      10000,
		RestartGraceMS:      500,
	}
}

// LoadConfig reads the JSON config at path, layering file values over the
// defaults and environment overrides over both. A missing file is not an
// error; the defaults plus environment apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save persists the config as indented JSON, creating parent directories as
// needed. The write goes through a temp file and rename so a crash mid-write
// never leaves a truncated config.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NIGHTJAR_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("NIGHTJAR_DEVICE_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("NIGHTJAR_DEVICE_LOCATION"); v != "" {
		c.Location = v
	}
	if v := os.Getenv("NIGHTJAR_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("NIGHTJAR_DEVICE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("NIGHTJAR_DEVICE_VOICE"); v != "" {
		c.Voice = v
	}
	if v := os.Getenv("NIGHTJAR_BUFFER_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BufferBytes = n
		}
	}
}

// Validate reports every problem with the config at once.
func (c Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device id is required"))
	}
	if !strings.HasPrefix(c.ServerURL, "ws://") && !strings.HasPrefix(c.ServerURL, "wss://") {
		errs = append(errs, fmt.Errorf("server_url %q must be a ws:// or wss:// URL", c.ServerURL))
	}
	if c.BufferBytes <= 0 {
		errs = append(errs, fmt.Errorf("buffer_bytes must be positive, got %d", c.BufferBytes))
	}
	if c.FlushIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("flush_interval_ms must be positive, got %d", c.FlushIntervalMS))
	}
	if c.HeartbeatIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat_interval_ms must be positive, got %d", c.HeartbeatIntervalMS))
	}
	if c.ReconnectBaseMS <= 0 || c.ReconnectMaxMS < c.ReconnectBaseMS {
		errs = append(errs, errors.New("reconnect delays must satisfy 0 < base <= max"))
	}
	if c.ReconnectFactor < 1 {
		errs = append(errs, fmt.Errorf("reconnect_factor must be >= 1, got %v", c.ReconnectFactor))
	}
	return errors.Join(errs...)
}

func (c Config) flushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMS) * time.Millisecond
}

func (c Config) heartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

func (c Config) restartGrace() time.Duration {
	return time.Duration(c.RestartGraceMS) * time.Millisecond
}

// Backoff returns the reconnect delay before attempt n (1-based): the base
// delay grows geometrically and clamps at the maximum.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.ReconnectBaseMS)
	maxDelay := float64(c.ReconnectMaxMS)
	for i := 1; i < attempt; i++ {
		delay *= c.ReconnectFactor
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	return time.Duration(delay) * time.Millisecond
}

// updatableFields is the allow-list for the hub's update-config command.
// Identity and hub address are deliberately absent; a remote command must not
// be able to re-point or impersonate a device.
var updatableFields = map[string]bool{
	"name":                  true,
	"location":              true,
	"voice":                 true,
	"buffer_bytes":          true,
	"flush_interval_ms":     true,
	"heartbeat_interval_ms": true,
}

// captureFields are the updatable fields that require the audio capture loop
// to restart before they take effect.
var captureFields = map[string]bool{
	"buffer_bytes":      true,
	"flush_interval_ms": true,
}

// ApplyUpdate applies allow-listed fields from an update-config command.
// Unknown and disallowed fields are skipped with no error. Returns the names
// of the fields that changed and whether any of them affect audio capture.
func (c *Config) ApplyUpdate(params map[string]any) (changed []string, capture bool, err error) {
	next := *c
	for key, raw := range params {
		if !updatableFields[key] {
			continue
		}
		var applied bool
		switch key {
		case "name":
			applied = setString(&next.Name, raw)
		case "location":
			applied = setString(&next.Location, raw)
		case "voice":
			applied = setString(&next.Voice, raw)
		case "buffer_bytes":
			applied = setInt(&next.BufferBytes, raw)
		case "flush_interval_ms":
			applied = setInt64(&next.FlushIntervalMS, raw)
		case "heartbeat_interval_ms":
			applied = setInt64(&next.HeartbeatIntervalMS, raw)
		}
		if !applied {
			return nil, false, fmt.Errorf("update-config: field %q has unusable value %v", key, raw)
		}
		changed = append(changed, key)
		if captureFields[key] {
			capture = true
		}
	}
	if len(changed) == 0 {
		return nil, false, nil
	}
	if err := next.Validate(); err != nil {
		return nil, false, fmt.Errorf("update-config rejected: %w", err)
	}
	*c = next
	return changed, capture, nil
}

func setString(dst *string, raw any) bool {
	s, ok := raw.(string)
	if ok {
		*dst = s
	}
	return ok
}

// setInt accepts float64 because JSON numbers decode to float64 inside
// map[string]any params.
func setInt(dst *int, raw any) bool {
	f, ok := raw.(float64)
	if ok {
		*dst = int(f)
	}
	return ok
}

func setInt64(dst *int64, raw any) bool {
	f, ok := raw.(float64)
	if ok {
		*dst = int64(f)
	}
	return ok
}
