package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/petems/audio-bridge/internal/app"
	"github.com/petems/audio-bridge/internal/audio"
	"github.com/petems/audio-bridge/internal/config"
	"github.com/petems/audio-bridge/internal/logging"
	"github.com/petems/audio-bridge/internal/permissions"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	configPath := flag.String("config", config.Path(), "path to config file")
	backend := flag.String("backend", "", "audio backend: portaudio or miniaudio (overrides config)")
	mode := flag.String("mode", "", "capture mode: blocking or callback (overrides config)")
	device := flag.String("device", "", "input device name (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	listDevices := flag.Bool("list-devices", false, "list input devices and exit")
	flag.Parse()

	// Load config from XDG/Library/AppData
	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *mode != "" {
		cfg.Capture.Mode = *mode
	}
	if *device != "" {
		cfg.Capture.Device = *device
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsureMicrophone(); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	host, err := audio.Open(cfg.Backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer host.Terminate()

	if *listDevices {
		devices, err := host.ListDevices()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list devices")
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, d.Name)
		}
		return
	}

	captureCfg, err := cfg.CaptureConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid capture settings")
	}
	opts, err := cfg.CaptureOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid capture settings")
	}

	application := app.New(app.Config{
		Host:    host,
		Capture: captureCfg,
		Options: opts,
		Logger:  log,
	})

	log.Info().Str("version", Version).Str("commit", Commit).Msg("audio-bridge starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go handleSignals(ctx, sigChan, application.Shutdown, cancel, log)

	runErr := application.Run(ctx)

	sum := application.Summary()
	log.Info().
		Uint64("periods", sum.Periods).
		Uint64("frames", sum.Frames).
		Uint64("overflows", sum.Overflows).
		Uint64("underflows", sum.Underflows).
		Uint64("dropped", sum.Dropped).
		Float64("peak", sum.Peak).
		Msg("Capture summary")

	if runErr != nil {
		host.Terminate()
		log.Fatal().Err(runErr).Msg("Capture error")
	}
}

// handleSignals stops capture gracefully on the first signal and then cancels
// ctx, so Run returns even if capture had not started yet. A later signal
// while shutdown is still pending cancels immediately.
func handleSignals(ctx context.Context, sigs <-chan os.Signal, shutdown func(context.Context) error, cancel context.CancelFunc, log zerolog.Logger) {
	select {
	case <-sigs:
	case <-ctx.Done():
		return
	}
	log.Info().Msg("Shutting down...")

	shutdownCtx, done := context.WithTimeout(ctx, 2*time.Second)
	defer done()

	result := make(chan error, 1)
	go func() { result <- shutdown(shutdownCtx) }()

	select {
	case err := <-result:
		if err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
	case <-sigs:
		log.Warn().Msg("Second signal, cancelling capture")
	}
	cancel()
}
