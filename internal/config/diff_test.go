package config_test

import (
	"testing"
	"time"

	"github.com/nightjarhq/nightjar/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.AlertPhrasesChanged || d.RetentionChanged || d.RestartRequired {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require restart")
	}
}

func TestDiff_AlertPhrases(t *testing.T) {
	t.Parallel()
	old := config.Default()
	old.Alerts.Phrases = []string{"help"}
	new := config.Default()
	new.Alerts.Phrases = []string{"help", "mayday"}

	d := config.Diff(old, new)
	if !d.AlertPhrasesChanged {
		t.Error("AlertPhrasesChanged should be true")
	}
	if len(d.NewAlertPhrases) != 2 {
		t.Errorf("NewAlertPhrases = %v, want 2 entries", d.NewAlertPhrases)
	}
}

func TestDiff_Retention(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Retention.MaxAge = 24 * time.Hour

	d := config.Diff(old, new)
	if !d.RetentionChanged {
		t.Error("RetentionChanged should be true")
	}
	if d.RestartRequired {
		t.Error("retention change should not require restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }},
		{"database", func(c *config.Config) { c.Storage.Database = "other.db" }},
		{"data dir", func(c *config.Config) { c.Storage.DataDir = "/mnt/audio" }},
		{"transcriber", func(c *config.Config) { c.Providers.Transcriber.Name = "openai" }},
		{"classifier model", func(c *config.Config) { c.Providers.Classifier.Model = "gpt-4o" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			if d := config.Diff(old, new); !d.RestartRequired {
				t.Errorf("%s change should require restart", tt.name)
			}
		})
	}
}
