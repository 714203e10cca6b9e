// Command nightjar-hub is the central hub: it terminates device WebSocket
// connections, runs the transcription and alerting pipeline, and serves the
// observer REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nightjarhq/nightjar/internal/config"
	"github.com/nightjarhq/nightjar/internal/hub"
	"github.com/nightjarhq/nightjar/internal/hub/httpapi"
	"github.com/nightjarhq/nightjar/internal/ingest"
	"github.com/nightjarhq/nightjar/internal/observe"
	"github.com/nightjarhq/nightjar/internal/resilience"
	"github.com/nightjarhq/nightjar/internal/retention"
	"github.com/nightjarhq/nightjar/internal/store"
	"github.com/nightjarhq/nightjar/internal/store/postgres"
	"github.com/nightjarhq/nightjar/internal/store/sqlite"
	"github.com/nightjarhq/nightjar/pkg/provider/classify"
	classifyanyllm "github.com/nightjarhq/nightjar/pkg/provider/classify/anyllm"
	"github.com/nightjarhq/nightjar/pkg/provider/classify/keyword"
	classifyopenai "github.com/nightjarhq/nightjar/pkg/provider/classify/openai"
	"github.com/nightjarhq/nightjar/pkg/provider/transcribe"
	transcribeopenai "github.com/nightjarhq/nightjar/pkg/provider/transcribe/openai"
	"github.com/nightjarhq/nightjar/pkg/provider/transcribe/whispercpp"
	"github.com/nightjarhq/nightjar/pkg/provider/transcribe/whisperserver"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nightjar-hub: %v\n", err)
		return 1
	}

	// The level lives in a LevelVar so the config watcher can retune
	// verbosity without a restart.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("nightjar hub starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"database", cfg.Storage.Database,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "nightjar-hub",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	st, err := openStore(ctx, cfg.Storage.Database)
	if err != nil {
		slog.Error("store open failed", "database", cfg.Storage.Database, "err", err)
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	transcriber, err := buildTranscriber(reg, cfg)
	if err != nil {
		slog.Error("transcriber create failed", "name", cfg.Providers.Transcriber.Name, "err", err)
		return 1
	}
	slog.Info("transcriber ready",
		"name", cfg.Providers.Transcriber.Name,
		"fallbacks", len(cfg.Providers.TranscriberFallbacks),
	)

	matcher, err := keyword.New(alertPhrases(cfg))
	if err != nil {
		slog.Error("alert phrase list invalid", "err", err)
		return 1
	}
	classifier, err := buildClassifier(reg, cfg)
	if err != nil {
		slog.Error("classifier create failed", "name", cfg.Providers.Classifier.Name, "err", err)
		return 1
	}
	slog.Info("classifier ready",
		"name", cfg.Providers.Classifier.Name,
		"fallbacks", len(cfg.Providers.ClassifierFallbacks),
	)

	registry := hub.NewRegistry()
	bcast := hub.NewBroadcaster(registry, metrics)
	pipeline := ingest.New(st, transcriber, bcast, metrics,
		ingest.WithClassifier(classifier),
		ingest.WithFallback(matcher),
		ingest.WithRegistry(registry),
		ingest.WithDataDir(cfg.Storage.DataDir),
	)
	defer pipeline.Close()

	h := hub.New(registry, st, bcast, metrics,
		hub.WithIngestor(pipeline),
		hub.WithClassifier(classifier),
	)

	go h.RunPinger(ctx, cfg.Server.PingInterval)

	sweeper := retention.New(cfg.Storage.DataDir, cfg.Retention.MaxAge, cfg.Retention.SweepInterval)
	go sweeper.Run(ctx)

	startConfigWatcher(*configPath, level, pipeline)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           httpapi.New(st, h).Handler(metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	slog.Info("hub ready", "listen_addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	pipeline.Close()
	slog.Info("goodbye")
	return 0
}

// openStore picks the backend from the DSN: postgres:// and postgresql://
// select the PostgreSQL store, anything else is a SQLite file path.
func openStore(ctx context.Context, dsn string) (store.Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(ctx, dsn)
	}
	return sqlite.Open(ctx, dsn)
}

// buildTranscriber creates the configured transcriber. When fallback
// backends are configured the whole set is wrapped in a circuit-breaking
// fallback chain so an unhealthy backend fails fast instead of stalling each
// audio chunk.
func buildTranscriber(reg *config.Registry, cfg *config.Config) (transcribe.Provider, error) {
	primary, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.TranscriberFallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewTranscriberFallback(primary, cfg.Providers.Transcriber.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.TranscriberFallbacks {
		fb, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fb)
	}
	return chain, nil
}

// buildClassifier mirrors buildTranscriber for the alert classifier.
func buildClassifier(reg *config.Registry, cfg *config.Config) (classify.Classifier, error) {
	primary, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.ClassifierFallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewClassifierFallback(primary, cfg.Providers.Classifier.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.ClassifierFallbacks {
		fb, err := reg.CreateClassifier(entry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fb)
	}
	return chain, nil
}

// alertPhrases returns the configured trigger phrases, falling back to the
// built-in list.
func alertPhrases(cfg *config.Config) []string {
	if len(cfg.Alerts.Phrases) > 0 {
		return cfg.Alerts.Phrases
	}
	return keyword.DefaultPhrases
}

// registerBuiltinProviders wires the provider factories that ship with the
// hub into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterTranscriber("whisper-server", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []whisperserver.Option
		if entry.Model != "" {
			opts = append(opts, whisperserver.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperserver.WithLanguage(lang))
		}
		return whisperserver.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whispercpp.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whispercpp.WithLanguage(lang))
		}
		return whispercpp.New(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []transcribeopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, transcribeopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, transcribeopenai.WithModel(entry.Model))
		}
		return transcribeopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterClassifier("openai", func(entry config.ProviderEntry) (classify.Classifier, error) {
		var opts []classifyopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, classifyopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, classifyopenai.WithModel(entry.Model))
		}
		return classifyopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterClassifier("anyllm", func(entry config.ProviderEntry) (classify.Classifier, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			backend = "openai"
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return classifyanyllm.New(backend, entry.Model, opts...)
	})

	reg.RegisterClassifier("keyword", func(config.ProviderEntry) (classify.Classifier, error) {
		return keyword.New(alertPhrases(cfg))
	})
}

// startConfigWatcher polls the config file and applies the safely reloadable
// parts in place. Anything else is logged as needing a restart. A missing
// config file simply disables hot reload.
func startConfigWatcher(path string, level *slog.LevelVar, pipeline *ingest.Pipeline) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	_, err := config.NewWatcher(path, func(old, updated *config.Config) {
		d := config.Diff(old, updated)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level reloaded", "level", d.NewLogLevel)
		}
		if d.AlertPhrasesChanged {
			phrases := d.NewAlertPhrases
			if len(phrases) == 0 {
				phrases = keyword.DefaultPhrases
			}
			m, err := keyword.New(phrases)
			if err != nil {
				slog.Error("reloaded alert phrases invalid, keeping previous", "err", err)
			} else {
				pipeline.SetFallback(m)
				slog.Info("alert phrases reloaded", "count", len(phrases))
			}
		}
		if d.RestartRequired {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	}
}

// optString reads a string value from a provider Options map, returning ""
// when the key is absent or not a string.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
