package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; storage, network,
// and provider changes require a restart and are reported via RestartRequired.
type ConfigDiff struct {
	LogLevelChanged     bool
	NewLogLevel         LogLevel
	AlertPhrasesChanged bool
	NewAlertPhrases     []string
	RetentionChanged    bool
	RestartRequired     bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Alerts.Phrases, new.Alerts.Phrases) {
		d.AlertPhrasesChanged = true
		d.NewAlertPhrases = new.Alerts.Phrases
	}

	if old.Retention != new.Retention {
		d.RetentionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Storage != new.Storage ||
		providerChanged(old.Providers.Transcriber, new.Providers.Transcriber) ||
		providerChanged(old.Providers.Classifier, new.Providers.Classifier) ||
		fallbacksChanged(old.Providers.TranscriberFallbacks, new.Providers.TranscriberFallbacks) ||
		fallbacksChanged(old.Providers.ClassifierFallbacks, new.Providers.ClassifierFallbacks) {
		d.RestartRequired = true
	}

	return d
}

func fallbacksChanged(old, new []ProviderEntry) bool {
	if len(old) != len(new) {
		return true
	}
	for i := range old {
		if providerChanged(old[i], new[i]) {
			return true
		}
	}
	return false
}

// providerChanged compares provider entries ignoring the free-form Options
// map, which is not comparable and rarely hot-edited.
func providerChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model
}
