package capture

import (
	"fmt"
	"time"
)

// EventKind classifies the result of one availability query.
type EventKind int

const (
	FramesReady EventKind = iota
	InputOverflowed
	OutputUnderflowed
)

func (k EventKind) String() string {
	switch k {
	case FramesReady:
		return "frames_ready"
	case InputOverflowed:
		return "input_overflowed"
	case OutputUnderflowed:
		return "output_underflowed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is the answer to an availability query. Frames is only meaningful
// for FramesReady.
type Event struct {
	Kind   EventKind
	Frames int
}

// Ready returns a FramesReady event for n frames.
func Ready(n int) Event {
	return Event{Kind: FramesReady, Frames: n}
}

// Mode selects how the host delivers audio.
type Mode int

const (
	// Blocking polls the host for availability and reads synchronously.
	Blocking Mode = iota
	// Callback lets the host push each period from its own real-time thread.
	Callback
)

func (m Mode) String() string {
	switch m {
	case Blocking:
		return "blocking"
	case Callback:
		return "callback"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Latency is a hint for the device's input latency.
type Latency int

const (
	LowLatency Latency = iota
	HighLatency
)

func (l Latency) String() string {
	if l == HighLatency {
		return "high"
	}
	return "low"
}

// Config describes the stream to open. Device selection is explicit: an empty
// Device means the host's default input device.
type Config struct {
	Device       string
	Channels     int
	SampleRate   float64
	PeriodFrames int
	Latency      Latency
	Mode         Mode
}

// DefaultConfig returns 44.1 kHz stereo with 256-frame periods in blocking mode.
func DefaultConfig() Config {
	return Config{
		Channels:     2,
		SampleRate:   44100,
		PeriodFrames: 256,
		Latency:      LowLatency,
		Mode:         Blocking,
	}
}

// PeriodSamples is the interleaved sample count of one period.
func (c Config) PeriodSamples() int {
	return c.PeriodFrames * c.Channels
}

// PeriodDuration is the wall-clock length of one period.
func (c Config) PeriodDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.PeriodFrames) / c.SampleRate * float64(time.Second))
}

// Validate checks the parameters that do not depend on the device.
func (c Config) Validate() error {
	switch {
	case c.Channels < 1:
		return fmt.Errorf("%w: channel count %d", ErrUnsupportedFormat, c.Channels)
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %v", ErrUnsupportedFormat, c.SampleRate)
	case c.PeriodFrames < 1:
		return fmt.Errorf("%w: period of %d frames", ErrUnsupportedFormat, c.PeriodFrames)
	case c.Mode != Blocking && c.Mode != Callback:
		return fmt.Errorf("%w: unknown mode %v", ErrUnsupportedFormat, c.Mode)
	}
	return nil
}

// Result is returned by a CallbackFunc to tell the host whether to keep delivering.
type Result int

const (
	Continue Result = iota
	Stop
)

// CallbackFunc receives one period of interleaved samples on the host's real-time
// thread. in is only valid for the duration of the call.
type CallbackFunc func(in []float32) Result

// Stream is an opened host stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// OverflowCounter is implemented by callback streams whose host flags input
// lost between deliveries.
type OverflowCounter interface {
	Overflows() uint64
}

// BlockingStream is a stream read by polling.
type BlockingStream interface {
	Stream
	// Available reports how many frames can be read without blocking, or an
	// overflow/underflow condition.
	Available() (Event, error)
	// Read returns a freshly allocated buffer holding frames interleaved frames.
	Read(frames int) ([]float32, error)
}

// Host is the audio subsystem the bridge captures from.
type Host interface {
	Name() string
	// CheckFormat reports whether cfg can be opened on the selected device.
	CheckFormat(cfg Config) error
	OpenBlocking(cfg Config) (BlockingStream, error)
	OpenCallback(cfg Config, cb CallbackFunc) (Stream, error)
}
