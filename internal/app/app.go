package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/petems/audio-bridge/internal/capture"
	"github.com/petems/audio-bridge/internal/frame"
)

// StatusUpdater is an interface for updating status (e.g., a status line)
type StatusUpdater interface {
	SetIdle()
	SetCapturing()
	SetError()
}

type Config struct {
	Host          capture.Host
	Capture       capture.Config
	Options       []capture.Option
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil

	// OnPeriod, if set, receives every decoded period on the consumer goroutine.
	OnPeriod func(frames []frame.Frame)
}

// Level is the loudness of one period across all channels.
type Level struct {
	Peak float64
	RMS  float64
}

// Summary aggregates what a run has captured.
type Summary struct {
	capture.Stats
	Peak float64
}

// App opens a capture bridge and drains it until stopped.
type App struct {
	host     capture.Host
	cfg      capture.Config
	opts     []capture.Option
	log      zerolog.Logger
	status   StatusUpdater
	onPeriod func([]frame.Frame)

	mu        sync.Mutex
	bridge    *capture.Bridge
	capturing bool
	peak      float64
	last      capture.Stats
	done      chan struct{}
}

func New(cfg Config) *App {
	return &App{
		host:     cfg.Host,
		cfg:      cfg.Capture,
		opts:     cfg.Options,
		log:      cfg.Logger,
		status:   cfg.StatusUpdater,
		onPeriod: cfg.OnPeriod,
	}
}

// Run captures until ctx is cancelled, Shutdown is called, or the stream
// faults. Only a fault is returned as an error.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.bridge != nil {
		a.mu.Unlock()
		return fmt.Errorf("%w: already running", capture.ErrInvalidState)
	}

	opts := append([]capture.Option{capture.WithLogger(a.log)}, a.opts...)
	bridge, err := capture.Open(a.host, a.cfg, opts...)
	if err != nil {
		a.mu.Unlock()
		a.setError()
		return err
	}
	if err := bridge.Start(); err != nil {
		bridge.Close()
		a.mu.Unlock()
		a.setError()
		return err
	}
	a.bridge = bridge
	a.capturing = true
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	a.log.Info().Str("session", bridge.Session()).Msg("Starting capture")
	if a.status != nil {
		a.status.SetCapturing()
	}

	runErr := a.drain(ctx, bridge)

	a.mu.Lock()
	a.last = bridge.Stats()
	a.capturing = false
	a.bridge = nil
	a.mu.Unlock()

	if err := bridge.Close(); err != nil {
		a.log.Error().Err(err).Msg("Close error")
	}
	close(done)

	if runErr != nil {
		a.setError()
		return runErr
	}
	if a.status != nil {
		a.status.SetIdle()
	}
	return nil
}

func (a *App) drain(ctx context.Context, bridge *capture.Bridge) error {
	for frames, err := range bridge.Frames().All(ctx) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			a.log.Info().Msg("Capture cancelled")
			return nil
		}
		if err != nil {
			a.log.Error().Err(err).Msg("Capture stream failed")
			return err
		}

		lvl := Measure(frames)
		a.mu.Lock()
		if lvl.Peak > a.peak {
			a.peak = lvl.Peak
		}
		a.mu.Unlock()
		a.log.Debug().
			Int("frames", len(frames)).
			Float64("peak", lvl.Peak).
			Float64("rms", lvl.RMS).
			Msg("Period")

		if a.onPeriod != nil {
			a.onPeriod(frames)
		}
	}
	a.log.Info().Msg("Capture stream ended")
	return nil
}

func (a *App) setError() {
	if a.status != nil {
		a.status.SetError()
	}
}

// Shutdown stops capture and waits for Run to return or ctx to expire.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	bridge, done := a.bridge, a.done
	a.mu.Unlock()

	if bridge == nil {
		return nil
	}

	a.log.Info().Msg("Stopping capture")
	if err := bridge.Stop(); err != nil && !errors.Is(err, capture.ErrInvalidState) {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}

// Summary returns the counters of the current run, or of the last one.
func (a *App) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.last
	if a.bridge != nil {
		st = a.bridge.Stats()
	}
	return Summary{Stats: st, Peak: a.peak}
}

// Measure returns the peak and RMS level over every sample in frames.
func Measure(frames []frame.Frame) Level {
	var (
		peak, sum float64
		n         int
	)
	for _, f := range frames {
		for _, s := range f {
			v := math.Abs(float64(s))
			if v > peak {
				peak = v
			}
			sum += v * v
			n++
		}
	}
	if n == 0 {
		return Level{}
	}
	return Level{Peak: peak, RMS: math.Sqrt(sum / float64(n))}
}
