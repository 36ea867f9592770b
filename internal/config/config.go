package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/petems/audio-bridge/internal/capture"
)

const (
	ModeBlocking = "blocking"
	ModeCallback = "callback"

	LatencyLow  = "low"
	LatencyHigh = "high"

	OverflowDrop = "drop"
	OverflowHalt = "halt"
)

type Config struct {
	LogLevel string        `json:"log_level"`
	Backend  string        `json:"backend"` // "portaudio" or "miniaudio"
	Capture  CaptureConfig `json:"capture"`
}

type CaptureConfig struct {
	Device         string   `json:"device"` // empty for the default input device
	Channels       int      `json:"channels"`
	SampleRate     float64  `json:"sample_rate"`
	PeriodFrames   int      `json:"period_frames"`
	Latency        string   `json:"latency"`         // "low" or "high"
	Mode           string   `json:"mode"`            // "blocking" or "callback"
	QueuePeriods   int      `json:"queue_periods"`   // callback mode backlog
	OverflowPolicy string   `json:"overflow_policy"` // "drop" or "halt"
	PollInterval   Duration `json:"poll_interval"`
}

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Backend:  "portaudio",
		Capture: CaptureConfig{
			Device:         "",
			Channels:       2,
			SampleRate:     44100,
			PeriodFrames:   256,
			Latency:        LatencyLow,
			Mode:           ModeBlocking,
			QueuePeriods:   16,
			OverflowPolicy: OverflowDrop,
			PollInterval:   Duration(time.Millisecond),
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config at path over the defaults. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(Path())
}

func (c *Config) SaveTo(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects values the capture layer cannot use.
func (c *Config) Validate() error {
	cc := c.Capture
	switch {
	case cc.Channels < 1:
		return fmt.Errorf("channels must be positive, got %d", cc.Channels)
	case cc.SampleRate <= 0:
		return fmt.Errorf("sample_rate must be positive, got %v", cc.SampleRate)
	case cc.PeriodFrames < 1:
		return fmt.Errorf("period_frames must be positive, got %d", cc.PeriodFrames)
	case cc.QueuePeriods < 1:
		return fmt.Errorf("queue_periods must be positive, got %d", cc.QueuePeriods)
	case cc.PollInterval < 0:
		return fmt.Errorf("poll_interval must not be negative")
	}
	if _, err := parseMode(cc.Mode); err != nil {
		return err
	}
	if _, err := parseLatency(cc.Latency); err != nil {
		return err
	}
	if _, err := parseOverflow(cc.OverflowPolicy); err != nil {
		return err
	}
	return nil
}

// CaptureConfig converts the file settings into stream parameters.
func (c *Config) CaptureConfig() (capture.Config, error) {
	mode, err := parseMode(c.Capture.Mode)
	if err != nil {
		return capture.Config{}, err
	}
	latency, err := parseLatency(c.Capture.Latency)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		Device:       c.Capture.Device,
		Channels:     c.Capture.Channels,
		SampleRate:   c.Capture.SampleRate,
		PeriodFrames: c.Capture.PeriodFrames,
		Latency:      latency,
		Mode:         mode,
	}, nil
}

// CaptureOptions returns the bridge options implied by the file settings.
func (c *Config) CaptureOptions() ([]capture.Option, error) {
	policy, err := parseOverflow(c.Capture.OverflowPolicy)
	if err != nil {
		return nil, err
	}
	return []capture.Option{
		capture.WithQueuePeriods(c.Capture.QueuePeriods),
		capture.WithOverflowPolicy(policy),
		capture.WithPollInterval(time.Duration(c.Capture.PollInterval)),
	}, nil
}

func parseMode(s string) (capture.Mode, error) {
	switch strings.ToLower(s) {
	case ModeBlocking:
		return capture.Blocking, nil
	case ModeCallback:
		return capture.Callback, nil
	}
	return 0, fmt.Errorf("unknown capture mode %q", s)
}

func parseLatency(s string) (capture.Latency, error) {
	switch strings.ToLower(s) {
	case LatencyLow:
		return capture.LowLatency, nil
	case LatencyHigh:
		return capture.HighLatency, nil
	}
	return 0, fmt.Errorf("unknown latency %q", s)
}

func parseOverflow(s string) (capture.OverflowPolicy, error) {
	switch strings.ToLower(s) {
	case OverflowDrop:
		return capture.OverflowDrop, nil
	case OverflowHalt:
		return capture.OverflowHalt, nil
	}
	return 0, fmt.Errorf("unknown overflow policy %q", s)
}

// Path returns the platform-specific config file path
func Path() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "audio-bridge", "config.json")
}
