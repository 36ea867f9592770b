package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/audio-bridge/internal/capture"
	"github.com/petems/audio-bridge/internal/frame"
)

// Mock implementations for testing
type mockHost struct {
	formatErr error
	readErr   error
	amplitude float32
}

func (m *mockHost) Name() string { return "mock" }

func (m *mockHost) CheckFormat(cfg capture.Config) error { return m.formatErr }

func (m *mockHost) OpenBlocking(cfg capture.Config) (capture.BlockingStream, error) {
	return &mockStream{cfg: cfg, readErr: m.readErr, amplitude: m.amplitude}, nil
}

func (m *mockHost) OpenCallback(cfg capture.Config, cb capture.CallbackFunc) (capture.Stream, error) {
	return nil, errors.New("callback capture not mocked")
}

type mockStream struct {
	cfg       capture.Config
	readErr   error
	amplitude float32
}

func (m *mockStream) Start() error { return nil }
func (m *mockStream) Stop() error  { return nil }
func (m *mockStream) Close() error { return nil }

func (m *mockStream) Available() (capture.Event, error) {
	return capture.Ready(m.cfg.PeriodFrames), nil
}

func (m *mockStream) Read(frames int) ([]float32, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	buf := make([]float32, frames*m.cfg.Channels)
	for i := range buf {
		buf[i] = m.amplitude
		if i%2 == 1 {
			buf[i] = -m.amplitude
		}
	}
	return buf, nil
}

type mockStatus struct {
	mu     sync.Mutex
	states []string
}

func (m *mockStatus) SetIdle()      { m.record("idle") }
func (m *mockStatus) SetCapturing() { m.record("capturing") }
func (m *mockStatus) SetError()     { m.record("error") }

func (m *mockStatus) record(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
}

func (m *mockStatus) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.states...)
}

func newTestApp(host capture.Host, status StatusUpdater, onPeriod func([]frame.Frame)) *App {
	cfg := capture.DefaultConfig()
	cfg.PeriodFrames = 64
	return New(Config{
		Host:          host,
		Capture:       cfg,
		Options:       []capture.Option{capture.WithPollInterval(0)},
		Logger:        zerolog.Nop(),
		StatusUpdater: status,
		OnPeriod:      onPeriod,
	})
}

func TestRunUntilShutdown(t *testing.T) {
	status := &mockStatus{}
	periods := make(chan int, 1024)
	app := newTestApp(&mockHost{amplitude: 0.5}, status, func(frames []frame.Frame) {
		select {
		case periods <- len(frames):
		default:
		}
	})

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run(context.Background()) }()

	select {
	case n := <-periods:
		assert.Equal(t, 64, n)
	case <-time.After(time.Second):
		t.Fatal("no period delivered")
	}
	assert.True(t, app.IsCapturing())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, <-runErr)
	assert.False(t, app.IsCapturing())

	sum := app.Summary()
	assert.Positive(t, sum.Periods)
	assert.Equal(t, sum.Periods*64, sum.Frames)
	assert.InDelta(t, 0.5, sum.Peak, 1e-6)
	assert.Equal(t, []string{"capturing", "idle"}, status.all())
}

func TestRunUntilCancelled(t *testing.T) {
	app := newTestApp(&mockHost{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))
	assert.False(t, app.IsCapturing())
}

func TestRunReportsFault(t *testing.T) {
	status := &mockStatus{}
	app := newTestApp(&mockHost{readErr: errors.New("unplugged")}, status, nil)

	err := app.Run(context.Background())
	require.ErrorIs(t, err, capture.ErrStreamFault)
	assert.Equal(t, []string{"capturing", "error"}, status.all())
}

func TestRunOpenFailure(t *testing.T) {
	status := &mockStatus{}
	app := newTestApp(&mockHost{formatErr: errors.New("no")}, status, nil)

	err := app.Run(context.Background())
	require.ErrorIs(t, err, capture.ErrUnsupportedFormat)
	assert.Equal(t, []string{"error"}, status.all())
}

func TestShutdownWhenIdle(t *testing.T) {
	app := newTestApp(&mockHost{}, nil, nil)
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestMeasure(t *testing.T) {
	frames := []frame.Frame{{0.5, -0.5}, {0.5, -0.5}}
	lvl := Measure(frames)
	assert.InDelta(t, 0.5, lvl.Peak, 1e-9)
	assert.InDelta(t, 0.5, lvl.RMS, 1e-9)

	assert.Equal(t, Level{}, Measure(nil))

	lvl = Measure([]frame.Frame{{1}, {0}, {0}, {0}})
	assert.InDelta(t, 1, lvl.Peak, 1e-9)
	assert.InDelta(t, 0.5, lvl.RMS, 1e-9)
}
