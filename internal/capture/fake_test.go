package capture

import (
	"errors"
	"sync"
	"sync/atomic"
)

// fakeHost scripts a host audio subsystem for tests.
type fakeHost struct {
	formatErr error
	openErr   error

	// blocking mode script, consumed one step per Available call
	steps   []step
	readErr error

	mu       sync.Mutex
	blocking *fakeBlockingStream
	callback *fakeCallbackStream
}

type step struct {
	ev  Event
	err error
}

func (h *fakeHost) Name() string { return "fake" }

func (h *fakeHost) CheckFormat(cfg Config) error { return h.formatErr }

func (h *fakeHost) OpenBlocking(cfg Config) (BlockingStream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.blocking = &fakeBlockingStream{
		channels: cfg.Channels,
		steps:    append([]step(nil), h.steps...),
		readErr:  h.readErr,
	}
	return h.blocking, nil
}

func (h *fakeHost) OpenCallback(cfg Config, cb CallbackFunc) (Stream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callback = &fakeCallbackStream{cb: cb}
	return h.callback, nil
}

type lifecycle struct {
	mu      sync.Mutex
	started int
	stopped int
	closed  int
}

func (l *lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
	return nil
}

func (l *lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped++
	return nil
}

func (l *lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *lifecycle) counts() (started, stopped, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started, l.stopped, l.closed
}

// fakeBlockingStream returns samples numbered from zero so order is checkable.
// When the script runs out it reports zero frames forever.
type fakeBlockingStream struct {
	lifecycle
	channels int
	readErr  error

	smu     sync.Mutex
	steps   []step
	queries int
	next    float32
}

func (s *fakeBlockingStream) Available() (Event, error) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.queries++
	if len(s.steps) == 0 {
		return Ready(0), nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.ev, st.err
}

func (s *fakeBlockingStream) Read(frames int) ([]float32, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	s.smu.Lock()
	defer s.smu.Unlock()
	out := make([]float32, frames*s.channels)
	for i := range out {
		out[i] = s.next
		s.next++
	}
	return out, nil
}

// fakeCallbackStream lets the test play the host's real-time thread.
type fakeCallbackStream struct {
	lifecycle
	cb CallbackFunc

	dmu     sync.Mutex
	calls   int
	results []Result

	overflows atomic.Uint64
}

func (s *fakeCallbackStream) Overflows() uint64 {
	return s.overflows.Load()
}

var errHostStopped = errors.New("host stopped delivering")

// deliver invokes the callback the way a host would; it refuses once the
// callback has asked to stop.
func (s *fakeCallbackStream) deliver(in []float32) (Result, error) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if n := len(s.results); n > 0 && s.results[n-1] == Stop {
		return Stop, errHostStopped
	}
	s.calls++
	r := s.cb(in)
	s.results = append(s.results, r)
	return r, nil
}

func period(start float32, samples int) []float32 {
	buf := make([]float32, samples)
	for i := range buf {
		buf[i] = start + float32(i)
	}
	return buf
}
