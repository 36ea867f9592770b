// Package capture bridges a host audio stream to a pull-based frame stream.
//
// In blocking mode the consumer goroutine polls the host and reads each
// period itself. In callback mode the host's real-time thread copies each
// period into a bounded Handoff that the consumer drains. Either way the
// consumer sees decoded periods in hardware order through FrameStream.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the bridge lifecycle state.
type State int32

const (
	StateOpened State = iota + 1
	StateRunning
	StateStopped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// OverflowPolicy decides what the callback does when the handoff is full.
type OverflowPolicy int

const (
	// OverflowDrop discards the newest period and keeps capturing.
	OverflowDrop OverflowPolicy = iota
	// OverflowHalt stops capture; buffered periods are still delivered.
	OverflowHalt
)

func (p OverflowPolicy) String() string {
	if p == OverflowHalt {
		return "halt"
	}
	return "drop"
}

const (
	defaultQueuePeriods = 16
	defaultPollInterval = time.Millisecond
)

type options struct {
	log          zerolog.Logger
	queuePeriods int
	policy       OverflowPolicy
	pollInterval time.Duration
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger sets the bridge logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithQueuePeriods bounds the callback-mode backlog, in periods.
func WithQueuePeriods(n int) Option {
	return func(o *options) { o.queuePeriods = n }
}

// WithOverflowPolicy sets what happens when the callback-mode backlog is full.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithPollInterval sets the sleep between empty availability queries in
// blocking mode. Zero spins.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// Stats is a snapshot of bridge counters.
type Stats struct {
	Periods    uint64
	Frames     uint64
	Overflows  uint64
	Underflows uint64
	Dropped    uint64
	Backlog    int
}

// Bridge owns one host stream and exposes it as a FrameStream.
type Bridge struct {
	cfg     Config
	policy  OverflowPolicy
	log     zerolog.Logger
	session string

	mu    sync.Mutex
	state atomic.Int32

	stream   Stream
	blocking BlockingStream
	poller   *Poller
	handoff  *Handoff
	overruns OverflowCounter

	stopCh   chan struct{}
	stopOnce sync.Once
	halted   atomic.Bool

	closeOnce sync.Once
	closeErr  error

	periods atomic.Uint64
	frames  atomic.Uint64

	out *FrameStream
}

// Open checks cfg against the host and opens a stream in cfg.Mode. The
// returned bridge is in StateOpened; call Start to begin capture.
func Open(host Host, cfg Config, opts ...Option) (*Bridge, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: no audio host", ErrDeviceError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		log:          zerolog.Nop(),
		queuePeriods: defaultQueuePeriods,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := host.CheckFormat(cfg); err != nil {
		return nil, classify(err, ErrUnsupportedFormat)
	}

	b := &Bridge{
		cfg:     cfg,
		policy:  o.policy,
		session: uuid.NewString(),
		stopCh:  make(chan struct{}),
	}
	b.log = o.log.With().
		Str("session", b.session).
		Str("backend", host.Name()).
		Stringer("mode", cfg.Mode).
		Logger()

	switch cfg.Mode {
	case Blocking:
		s, err := host.OpenBlocking(cfg)
		if err != nil {
			return nil, classify(err, ErrDeviceError)
		}
		b.stream = s
		b.blocking = s
		b.poller = NewPoller(s.Available, b.stopCh, o.pollInterval, b.log)
	case Callback:
		b.handoff = NewHandoff(o.queuePeriods)
		s, err := host.OpenCallback(cfg, b.deliver)
		if err != nil {
			return nil, classify(err, ErrDeviceError)
		}
		b.stream = s
		b.overruns, _ = s.(OverflowCounter)
	}

	b.out = &FrameStream{b: b}
	b.state.Store(int32(StateOpened))

	b.log.Info().
		Str("device", deviceLabel(cfg.Device)).
		Int("channels", cfg.Channels).
		Float64("sample_rate", cfg.SampleRate).
		Int("period_frames", cfg.PeriodFrames).
		Stringer("latency", cfg.Latency).
		Msg("Capture stream opened")
	return b, nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

// Session is the ID attached to this bridge's log lines.
func (b *Bridge) Session() string {
	return b.session
}

// Config returns the parameters the stream was opened with.
func (b *Bridge) Config() Config {
	return b.cfg
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Start begins capture. It fails with ErrInvalidState unless the bridge is opened.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st := b.State(); st != StateOpened {
		return fmt.Errorf("%w: start while %s", ErrInvalidState, st)
	}
	if err := b.stream.Start(); err != nil {
		return fmt.Errorf("%w: start stream: %w", ErrDeviceError, err)
	}
	b.state.Store(int32(StateRunning))
	b.log.Info().Msg("Capture started")
	return nil
}

// Stop requests that capture cease. In callback mode the callback returns
// Stop on its next invocation and the frame stream ends once buffered periods
// are drained. Stop is only valid while running.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st := b.State(); st != StateRunning {
		return fmt.Errorf("%w: stop while %s", ErrInvalidState, st)
	}
	b.state.Store(int32(StateStopped))
	err := b.haltLocked()
	b.log.Info().Msg("Capture stopped")
	if err != nil {
		return fmt.Errorf("%w: stop stream: %w", ErrStreamFault, err)
	}
	return nil
}

func (b *Bridge) haltLocked() error {
	b.halted.Store(true)
	b.stopOnce.Do(func() { close(b.stopCh) })
	err := b.stream.Stop()
	if b.handoff != nil {
		b.handoff.Finish()
	}
	return err
}

// Close stops capture if needed and releases the host stream. It may be
// called in any state and more than once.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		var stopErr error
		if b.State() == StateRunning {
			stopErr = b.haltLocked()
		}
		b.halted.Store(true)
		b.stopOnce.Do(func() { close(b.stopCh) })
		if b.handoff != nil {
			b.handoff.Detach()
			b.handoff.Finish()
		}
		b.closeErr = errors.Join(stopErr, b.stream.Close())
		b.state.Store(int32(StateClosed))

		st := b.Stats()
		b.log.Info().
			Uint64("periods", st.Periods).
			Uint64("frames", st.Frames).
			Uint64("overflows", st.Overflows).
			Uint64("dropped", st.Dropped).
			Msg("Capture stream closed")
	})
	return b.closeErr
}

// Frames returns the bridge's frame stream. There is one stream per bridge.
func (b *Bridge) Frames() *FrameStream {
	return b.out
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	st := Stats{
		Periods: b.periods.Load(),
		Frames:  b.frames.Load(),
	}
	if b.poller != nil {
		st.Overflows = b.poller.Overflows()
		st.Underflows = b.poller.Underflows()
	}
	if b.overruns != nil {
		st.Overflows = b.overruns.Overflows()
	}
	if b.handoff != nil {
		st.Dropped = b.handoff.Dropped()
		st.Backlog = b.handoff.Backlog()
	}
	return st
}

// deliver runs on the host's real-time thread. It copies in, hands it off
// and never blocks. Once it has returned Stop it does no further work.
func (b *Bridge) deliver(in []float32) Result {
	if b.halted.Load() {
		return Stop
	}

	buf := make([]float32, len(in))
	copy(buf, in)

	err := b.handoff.Send(buf)
	if err == nil {
		return Continue
	}
	if errors.Is(err, ErrHandoffFull) && b.policy == OverflowDrop {
		return Continue
	}
	b.halted.Store(true)
	b.handoff.Finish()
	return Stop
}
