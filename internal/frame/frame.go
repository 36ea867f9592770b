// Package frame converts between interleaved sample buffers and
// multi-channel frames.
package frame

import (
	"errors"
	"fmt"
)

// ErrPartialFrame is returned when a buffer does not hold a whole number of frames.
var ErrPartialFrame = errors.New("buffer length is not a multiple of the channel count")

// Frame holds one sample per channel for a single instant.
type Frame []float32

// Channels returns the frame arity.
func (f Frame) Channels() int {
	return len(f)
}

// Decode splits an interleaved buffer into frames of channels samples each,
// preserving arrival order. The buffer is validated before any frame is built.
//
// All frames share one freshly allocated backing array, so the result does not
// alias raw.
func Decode(raw []float32, channels int) ([]Frame, error) {
	if err := validate(raw, channels); err != nil {
		return nil, err
	}
	backing := make([]float32, len(raw))
	copy(backing, raw)
	return split(backing, channels), nil
}

// DecodeOwned is Decode for a buffer the caller gives up: the frames are
// views into raw, which must not be modified afterwards.
func DecodeOwned(raw []float32, channels int) ([]Frame, error) {
	if err := validate(raw, channels); err != nil {
		return nil, err
	}
	return split(raw, channels), nil
}

func validate(raw []float32, channels int) error {
	if channels < 1 {
		return fmt.Errorf("invalid channel count %d", channels)
	}
	if len(raw)%channels != 0 {
		return fmt.Errorf("%w: %d samples, %d channels", ErrPartialFrame, len(raw), channels)
	}
	return nil
}

func split(backing []float32, channels int) []Frame {
	frames := make([]Frame, len(backing)/channels)
	for i := range frames {
		off := i * channels
		frames[i] = Frame(backing[off : off+channels : off+channels])
	}
	return frames
}

// Encode interleaves frames back into a flat buffer.
func Encode(frames []Frame) []float32 {
	n := 0
	for _, f := range frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}
