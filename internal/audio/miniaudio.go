package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/petems/audio-bridge/internal/capture"
)

// Miniaudio captures through miniaudio. It only delivers by callback.
type Miniaudio struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// NewMiniaudio initializes a miniaudio context. Call Terminate when done.
func NewMiniaudio(log zerolog.Logger) (*Miniaudio, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("component", "miniaudio").Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize miniaudio: %w", capture.ErrDeviceError, err)
	}
	return &Miniaudio{ctx: ctx, log: log}, nil
}

func (m *Miniaudio) Name() string { return BackendMiniaudio }

func (m *Miniaudio) captureDevices() ([]malgo.DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return infos, nil
}

func (m *Miniaudio) ListDevices() ([]Device, error) {
	infos, err := m.captureDevices()
	if err != nil {
		return nil, err
	}
	result := make([]Device, 0, len(infos))
	for _, info := range infos {
		result = append(result, Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault > 0,
		})
	}
	return result, nil
}

func (m *Miniaudio) device(name string) (*malgo.DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	infos, err := m.captureDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceError, err)
	}
	for i := range infos {
		if infos[i].Name() == name {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", capture.ErrDeviceError, name)
}

// CheckFormat only verifies the device exists; miniaudio converts channel
// counts and sample rates itself.
func (m *Miniaudio) CheckFormat(cfg capture.Config) error {
	devices, err := m.ListDevices()
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrDeviceError, err)
	}
	d, err := pickDevice(devices, cfg.Device)
	if err != nil {
		return err
	}
	return checkChannels(d, cfg)
}

func (m *Miniaudio) OpenBlocking(cfg capture.Config) (capture.BlockingStream, error) {
	return nil, fmt.Errorf("%w: miniaudio only supports callback capture", capture.ErrUnsupportedFormat)
}

func (m *Miniaudio) OpenCallback(cfg capture.Config, cb capture.CallbackFunc) (capture.Stream, error) {
	info, err := m.device(cfg.Device)
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	deviceConfig.PerformanceProfile = malgo.LowLatency
	if cfg.Latency == capture.HighLatency {
		deviceConfig.PerformanceProfile = malgo.Conservative
	}
	if info != nil {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	s := &maStream{
		scratch: make([]float32, cfg.PeriodSamples()),
		halt:    make(chan struct{}, 1),
		log:     m.log,
	}
	onData := func(_, in []byte, _ uint32) {
		if s.halted {
			return
		}
		samples := s.decode(in)
		if cb(samples) == capture.Stop {
			s.halted = true
			select {
			case s.halt <- struct{}{}:
			default:
			}
		}
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init capture device: %w", capture.ErrUnsupportedFormat, err)
	}
	s.device = device
	return s, nil
}

func (m *Miniaudio) Terminate() error {
	err := m.ctx.Uninit()
	m.ctx.Free()
	return err
}

type maStream struct {
	device *malgo.Device
	log    zerolog.Logger

	// touched only on the device thread
	scratch []float32
	halted  bool

	halt chan struct{}
	done chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// decode reinterprets native-endian f32 bytes into the reusable scratch buffer.
func (s *maStream) decode(in []byte) []float32 {
	n := len(in) / 4
	if n > cap(s.scratch) {
		s.scratch = make([]float32, n)
	}
	out := s.scratch[:n]
	decodeFloat32(out, in)
	return out
}

func decodeFloat32(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.NativeEndian.Uint32(src[i*4:]))
	}
}

func (s *maStream) Start() error {
	if err := s.device.Start(); err != nil {
		return err
	}
	s.done = make(chan struct{})
	go s.watch(s.done)
	return nil
}

func (s *maStream) watch(done <-chan struct{}) {
	select {
	case <-s.halt:
		if err := s.Stop(); err != nil {
			s.log.Error().Err(err).Msg("Failed to stop halted device")
		}
	case <-done:
	}
}

func (s *maStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.device.Stop()
	})
	return s.stopErr
}

func (s *maStream) Close() error {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.device.Uninit()
	return nil
}
