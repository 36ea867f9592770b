package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Poller.Wait once its stop channel is closed.
var ErrStopped = errors.New("capture stopped")

// QueryFunc asks the host how much input is ready.
type QueryFunc func() (Event, error)

// Poller waits for input frames in blocking mode.
type Poller struct {
	query    QueryFunc
	stop     <-chan struct{}
	interval time.Duration
	log      zerolog.Logger

	overflows  atomic.Uint64
	underflows atomic.Uint64
}

// NewPoller returns a Poller that queries until frames are ready. Between
// empty queries it sleeps for interval; an interval of zero re-queries
// immediately. Closing stop ends any Wait in progress.
func NewPoller(query QueryFunc, stop <-chan struct{}, interval time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		query:    query,
		stop:     stop,
		interval: interval,
		log:      log,
	}
}

// Wait blocks until the host reports at least one frame and returns the count.
// Overflow and underflow are logged and counted, and the wait goes on. A query
// error aborts the wait with ErrStreamFault.
func (p *Poller) Wait(ctx context.Context) (int, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-p.stop:
			return 0, ErrStopped
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		ev, err := p.query()
		if err != nil {
			return 0, fmt.Errorf("%w: availability query: %w", ErrStreamFault, err)
		}

		switch ev.Kind {
		case FramesReady:
			if ev.Frames > 0 {
				return ev.Frames, nil
			}
		case InputOverflowed:
			n := p.overflows.Add(1)
			p.log.Warn().Uint64("count", n).Msg("Input stream has overflowed")
			continue
		case OutputUnderflowed:
			n := p.underflows.Add(1)
			p.log.Warn().Uint64("count", n).Msg("Output stream has underflowed")
			continue
		default:
			p.log.Debug().Stringer("event", ev.Kind).Msg("Ignoring unknown availability event")
		}

		if p.interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(p.interval)
		} else {
			timer.Reset(p.interval)
		}
		select {
		case <-p.stop:
			return 0, ErrStopped
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
}

// Overflows returns the number of overflow events seen so far.
func (p *Poller) Overflows() uint64 {
	return p.overflows.Load()
}

// Underflows returns the number of underflow events seen so far.
func (p *Poller) Underflows() uint64 {
	return p.underflows.Load()
}
