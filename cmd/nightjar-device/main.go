// Command nightjar-device runs on a producer: it captures microphone audio,
// streams it to the hub, and executes hub commands. On a panic it leaves a
// crash artifact in the data directory and exits cleanly so its supervisor
// restarts it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	flag "github.com/spf13/pflag"

	"github.com/nightjarhq/nightjar/internal/device"
	capturepa "github.com/nightjarhq/nightjar/pkg/provider/capture/portaudio"
	"github.com/nightjarhq/nightjar/pkg/provider/speech/espeak"
)

func main() {
	os.Exit(run())
}

func run() (code int) {
	configPath := flag.StringP("config", "c", "device.json", "path to the device config file")
	logLevel := flag.String("log-level", "info", "log verbosity: debug, info, warn, or error")
	noSpeaker := flag.Bool("no-speaker", false, "do not register the speaker capability even if espeak-ng is installed")
	flag.Parse()

	// A local .env is convenient on dev benches; absence is normal.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: parseLevel(*logLevel),
	})))

	cfg, err := device.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", "path", *configPath, "err", err)
		return 1
	}

	// A panic must not wedge the device in a crash loop with no trace. Leave
	// an artifact and exit 0 so the supervisor restarts us.
	defer func() {
		if r := recover(); r == nil {
			return
		} else if path, err := device.WriteCrashArtifact(cfg.DataDir, cfg.DeviceID, r); err != nil {
			slog.Error("panic, and writing the crash artifact also failed", "panic", r, "err", err)
			code = 0
		} else {
			slog.Error("panic recorded, exiting for restart", "artifact", path)
			code = 0
		}
	}()

	source, err := capturepa.New()
	if err != nil {
		slog.Error("audio capture init failed", "err", err)
		return 1
	}
	defer func() {
		if err := source.Terminate(); err != nil {
			slog.Warn("audio teardown error", "err", err)
		}
	}()

	var opts []device.SessionOption
	if !*noSpeaker {
		var espeakOpts []espeak.Option
		if cfg.Voice != "" {
			espeakOpts = append(espeakOpts, espeak.WithVoice(cfg.Voice))
		}
		renderer, err := espeak.New(espeakOpts...)
		if err != nil {
			slog.Info("local speech unavailable, registering without speaker", "err", err)
		} else {
			opts = append(opts, device.WithRenderer(renderer))
		}
	}

	session := device.NewSession(cfg, *configPath, source, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("nightjar device starting",
		"device", cfg.DeviceID,
		"server", cfg.ServerURL,
		"config", *configPath,
	)

	err = session.Run(ctx)
	switch {
	case errors.Is(err, device.ErrRestartRequested):
		slog.Info("restart commanded, exiting for restart")
		return 0
	case err != nil:
		slog.Error("session failed", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
