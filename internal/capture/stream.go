package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/petems/audio-bridge/internal/frame"
)

// FrameStream yields decoded periods from a Bridge. It is meant for a single
// consumer goroutine.
type FrameStream struct {
	b             *Bridge
	err           error
	lastDropped   uint64
	lastOverflows uint64
}

// Next returns the next period as frames, in hardware order. It returns
// io.EOF once capture has stopped and every buffered period has been
// returned, and an error wrapping ErrStreamFault if the host failed. Both
// are final. Context errors are not.
func (s *FrameStream) Next(ctx context.Context) ([]frame.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}

	var (
		raw []float32
		err error
	)
	if s.b.cfg.Mode == Blocking {
		raw, err = s.b.pullBlocking(ctx)
	} else {
		raw, err = s.pullCallback(ctx)
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, ErrStreamFault) {
			s.err = err
		}
		return nil, err
	}

	// raw is already a private copy from Read or deliver.
	frames, err := frame.DecodeOwned(raw, s.b.cfg.Channels)
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrStreamFault, err)
		return nil, s.err
	}
	s.b.periods.Add(1)
	s.b.frames.Add(uint64(len(frames)))
	return frames, nil
}

func (b *Bridge) pullBlocking(ctx context.Context) ([]float32, error) {
	switch st := b.State(); st {
	case StateRunning:
	case StateStopped, StateClosed:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("%w: read while %s", ErrInvalidState, st)
	}

	n, err := b.poller.Wait(ctx)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return nil, io.EOF
		}
		return nil, err
	}

	raw, err := b.blocking.Read(n)
	if err != nil {
		if b.State() != StateRunning {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: read %d frames: %w", ErrStreamFault, n, err)
	}
	return raw, nil
}

func (s *FrameStream) pullCallback(ctx context.Context) ([]float32, error) {
	h := s.b.handoff
	raw, err := h.Receive(ctx)

	if dropped := h.Dropped(); dropped > s.lastDropped {
		s.b.log.Warn().
			Uint64("dropped", dropped-s.lastDropped).
			Uint64("total", dropped).
			Int("backlog", h.Backlog()).
			Msg("Consumer fell behind, periods dropped")
		s.lastDropped = dropped
	}
	if s.b.overruns != nil {
		if n := s.b.overruns.Overflows(); n > s.lastOverflows {
			s.b.log.Warn().
				Uint64("count", n-s.lastOverflows).
				Uint64("total", n).
				Msg("Input stream has overflowed")
			s.lastOverflows = n
		}
	}
	return raw, err
}

// All iterates over periods until the stream ends. io.EOF ends the loop
// silently; any other error is yielded once and ends it.
func (s *FrameStream) All(ctx context.Context) iter.Seq2[[]frame.Frame, error] {
	return func(yield func([]frame.Frame, error) bool) {
		for {
			frames, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(frames, nil) {
				return
			}
		}
	}
}

// EachFrame flattens All into single frames.
func (s *FrameStream) EachFrame(ctx context.Context) iter.Seq2[frame.Frame, error] {
	return func(yield func(frame.Frame, error) bool) {
		for frames, err := range s.All(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, f := range frames {
				if !yield(f, nil) {
					return
				}
			}
		}
	}
}
