package audio

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Open initializes the named backend.
func Open(backend string, log zerolog.Logger) (Host, error) {
	switch normalizeBackend(backend) {
	case "", BackendPortAudio:
		return NewPortAudio(log)
	case BackendMiniaudio:
		return NewMiniaudio(log)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", backend)
	}
}
