package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/petems/audio-bridge/internal/capture"
)

// PortAudio captures through the PortAudio library. It supports both
// blocking and callback streams.
type PortAudio struct {
	log zerolog.Logger
}

// NewPortAudio initializes PortAudio. Call Terminate when done.
func NewPortAudio(log zerolog.Logger) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize PortAudio: %w", capture.ErrDeviceError, err)
	}
	log.Debug().Str("version", portaudio.VersionText()).Msg("PortAudio initialized")
	return &PortAudio{log: log}, nil
}

func (p *PortAudio) Name() string { return BackendPortAudio }

func (p *PortAudio) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:          d.Name,
				Name:        d.Name,
				Default:     defaultDevice != nil && d.Name == defaultDevice.Name,
				MaxChannels: d.MaxInputChannels,
			})
		}
	}
	return result, nil
}

func (p *PortAudio) device(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		d, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to get default input device: %w", capture.ErrDeviceError, err)
		}
		return d, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %w", capture.ErrDeviceError, err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", capture.ErrDeviceError, name)
}

func (p *PortAudio) CheckFormat(cfg capture.Config) error {
	d, err := p.device(cfg.Device)
	if err != nil {
		return err
	}
	return checkChannels(Device{Name: d.Name, MaxChannels: d.MaxInputChannels}, cfg)
}

func (p *PortAudio) params(cfg capture.Config) (portaudio.StreamParameters, error) {
	d, err := p.device(cfg.Device)
	if err != nil {
		return portaudio.StreamParameters{}, err
	}

	latency := d.DefaultLowInputLatency
	if cfg.Latency == capture.HighLatency {
		latency = d.DefaultHighInputLatency
	}

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   d,
			Channels: cfg.Channels,
			Latency:  latency,
		},
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: cfg.PeriodFrames,
	}, nil
}

func (p *PortAudio) OpenBlocking(cfg capture.Config) (capture.BlockingStream, error) {
	params, err := p.params(cfg)
	if err != nil {
		return nil, err
	}

	buffer := make([]float32, cfg.PeriodSamples())
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	return &paBlockingStream{
		stream: stream,
		buffer: buffer,
		period: cfg.PeriodFrames,
	}, nil
}

func (p *PortAudio) OpenCallback(cfg capture.Config, cb capture.CallbackFunc) (capture.Stream, error) {
	params, err := p.params(cfg)
	if err != nil {
		return nil, err
	}

	s := &paCallbackStream{
		halt: make(chan struct{}, 1),
		log:  p.log,
	}
	stream, err := portaudio.OpenStream(params, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 {
			s.overflows.Add(1)
		}
		if s.halted.Load() {
			return
		}
		if cb(in) == capture.Stop {
			s.halted.Store(true)
			select {
			case s.halt <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (p *PortAudio) Terminate() error {
	return portaudio.Terminate()
}

// paBlockingStream reads one period at a time. PortAudio reports overflow on
// the read that lost data; it is surfaced on the following availability query.
type paBlockingStream struct {
	stream *portaudio.Stream
	buffer []float32
	period int

	overflowed bool
}

func (s *paBlockingStream) Start() error { return s.stream.Start() }
func (s *paBlockingStream) Stop() error  { return s.stream.Stop() }
func (s *paBlockingStream) Close() error { return s.stream.Close() }

func (s *paBlockingStream) Available() (capture.Event, error) {
	if s.overflowed {
		s.overflowed = false
		return capture.Event{Kind: capture.InputOverflowed}, nil
	}
	n, err := s.stream.AvailableToRead()
	if err != nil {
		return capture.Event{}, err
	}
	return capture.Ready(readyFrames(n, s.period)), nil
}

// readyFrames reports one full period once it is buffered, never more, so each
// pull reads exactly one period even when the consumer has fallen behind.
func readyFrames(available, period int) int {
	if available >= period {
		return period
	}
	return 0
}

func (s *paBlockingStream) Read(frames int) ([]float32, error) {
	out := make([]float32, 0, frames*len(s.buffer)/s.period)
	for read := 0; read < frames; read += s.period {
		err := s.stream.Read()
		if errors.Is(err, portaudio.InputOverflowed) {
			s.overflowed = true
		} else if err != nil {
			return nil, err
		}
		out = append(out, s.buffer...)
	}
	return out, nil
}

// paCallbackStream stops the PortAudio stream from a watcher goroutine once
// the callback returns capture.Stop, since a stream cannot be stopped from
// inside its own callback.
type paCallbackStream struct {
	stream *portaudio.Stream
	log    zerolog.Logger

	halted    atomic.Bool
	overflows atomic.Uint64
	halt      chan struct{}
	done      chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *paCallbackStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.done = make(chan struct{})
	go s.watch(s.done)
	return nil
}

func (s *paCallbackStream) watch(done <-chan struct{}) {
	select {
	case <-s.halt:
		if err := s.Stop(); err != nil {
			s.log.Error().Err(err).Msg("Failed to stop halted stream")
		}
	case <-done:
	}
}

// Overflows counts callbacks PortAudio flagged with lost input.
func (s *paCallbackStream) Overflows() uint64 {
	return s.overflows.Load()
}

func (s *paCallbackStream) Stop() error {
	s.stopOnce.Do(func() {
		s.halted.Store(true)
		s.stopErr = s.stream.Stop()
	})
	return s.stopErr
}

func (s *paCallbackStream) Close() error {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	return s.stream.Close()
}
