package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/jammin/internal/app"
	"github.com/petems/jammin/internal/audio"
	"github.com/petems/jammin/internal/config"
	"github.com/petems/jammin/internal/hotkey"
	"github.com/petems/jammin/internal/logging"
	"github.com/petems/jammin/internal/looper"
	"github.com/petems/jammin/internal/metrics"
	"github.com/petems/jammin/internal/permissions"
	"github.com/petems/jammin/internal/playback"
	"github.com/petems/jammin/internal/tray"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	trace       = flag.Bool("trace", false, "Log at trace level")
	configPath  = flag.String("config", "", "Config file path (default: platform config dir)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	headless    = flag.Bool("headless", false, "Run without tray or audio output, hotkey only")
)

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.Path()
	}

	// Load config from XDG/Library/AppData
	cfg, err := config.LoadFrom(path)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
	}
	if *trace {
		cfg.LogLevel = "trace"
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(log); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Initialize audio capture
	capture, err := audio.New(cfg.Audio, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer capture.Close()

	output := newOutput(cfg.Audio.SampleRate, log)
	defer output.Close()

	session, err := looper.New(looper.Config{
		SampleRate:       cfg.Audio.SampleRate,
		CaptureDuration:  time.Duration(cfg.Looper.CaptureSeconds) * time.Second,
		SnapshotDuration: time.Duration(cfg.Looper.SnapshotSeconds) * time.Second,
		Output:           output,
		Logger:           log,
		Metrics:          m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create looper")
	}

	application, err := app.New(app.Config{
		Audio:      capture,
		Session:    session,
		Output:     output,
		Config:     cfg,
		ConfigPath: path,
		Logger:     log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create app")
	}

	// Initialize hotkey manager
	hkManager, err := hotkey.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize hotkeys")
	}
	defer hkManager.Close()

	// Register global hotkey. The tray still works without it.
	if err := hkManager.Register(cfg.PlatformHotkey(), application.OnHotkey); err != nil {
		log.Warn().Err(err).Str("hotkey", cfg.PlatformHotkey()).Msg("Failed to register hotkey")
	}

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start capture")
	}

	log.Info().
		Str("version", Version).
		Str("session", session.ID()).
		Str("mode", cfg.Mode).
		Msg("Jammin starting...")

	if *headless {
		select {
		case <-ctx.Done():
		case <-session.Done():
			log.Error().Msg("Recorder stopped unexpectedly")
		}
	} else {
		trayUI := tray.New(application, log, Version, Commit, cancel)
		application.SetStatusUpdater(trayUI)

		// Start tray UI - MUST run on main thread
		if err := trayUI.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Tray error")
		}
	}

	log.Info().Msg("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

func newOutput(sampleRate int, log zerolog.Logger) playback.Output {
	if *headless {
		return playback.NewNull(log)
	}
	out, err := playback.NewOto(sampleRate, log)
	if err != nil {
		log.Warn().Err(err).Msg("Audio output unavailable, oneshots will be silent")
		return playback.NewNull(log)
	}
	return out
}
