package capture

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

var (
	// ErrHandoffClosed is returned by Send after the consumer detached or the
	// producer finished.
	ErrHandoffClosed = errors.New("handoff closed")
	// ErrHandoffFull is returned by Send when the backlog is at capacity.
	ErrHandoffFull = errors.New("handoff full")
)

// Handoff carries period buffers from one real-time producer to one consumer.
// The backlog is bounded; Send never blocks.
type Handoff struct {
	items      chan []float32
	done       chan struct{}
	finishOnce sync.Once
	detached   atomic.Bool
	dropped    atomic.Uint64
}

// NewHandoff returns a Handoff holding at most capacity buffers.
func NewHandoff(capacity int) *Handoff {
	if capacity < 1 {
		capacity = 1
	}
	return &Handoff{
		items: make(chan []float32, capacity),
		done:  make(chan struct{}),
	}
}

// Send enqueues buf without blocking. It fails with ErrHandoffClosed once the
// consumer has detached or the producer has finished, and with ErrHandoffFull
// when the backlog is at capacity; full sends are counted as drops.
// The caller hands ownership of buf to the consumer.
func (h *Handoff) Send(buf []float32) error {
	if h.detached.Load() {
		return ErrHandoffClosed
	}
	select {
	case <-h.done:
		return ErrHandoffClosed
	default:
	}

	select {
	case h.items <- buf:
		return nil
	default:
		h.dropped.Add(1)
		return ErrHandoffFull
	}
}

// Receive returns the next buffer in send order. Once the producer has
// finished it drains what is left and then returns io.EOF.
func (h *Handoff) Receive(ctx context.Context) ([]float32, error) {
	select {
	case buf := <-h.items:
		return buf, nil
	default:
	}

	select {
	case buf := <-h.items:
		return buf, nil
	case <-h.done:
		select {
		case buf := <-h.items:
			return buf, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finish marks the producer as stopped. Safe to call more than once.
func (h *Handoff) Finish() {
	h.finishOnce.Do(func() { close(h.done) })
}

// Detach marks the consumer as gone; the next Send fails.
func (h *Handoff) Detach() {
	h.detached.Store(true)
}

// Finished reports whether Finish has been called.
func (h *Handoff) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Backlog is the number of buffers waiting for the consumer.
func (h *Handoff) Backlog() int {
	return len(h.items)
}

// Capacity is the maximum backlog.
func (h *Handoff) Capacity() int {
	return cap(h.items)
}

// Dropped is the number of sends rejected because the backlog was full.
func (h *Handoff) Dropped() uint64 {
	return h.dropped.Load()
}
