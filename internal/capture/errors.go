package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceError reports that the host could not find or open the device.
	ErrDeviceError = errors.New("audio device error")
	// ErrUnsupportedFormat reports that the requested stream parameters were rejected.
	ErrUnsupportedFormat = errors.New("unsupported stream format")
	// ErrInvalidState reports an operation attempted in the wrong lifecycle state.
	ErrInvalidState = errors.New("invalid capture state")
	// ErrStreamFault reports a hard I/O error from the host mid-capture.
	ErrStreamFault = errors.New("capture stream fault")
)

// classify keeps errors already carrying a capture class and tags the rest with fallback.
func classify(err, fallback error) error {
	if errors.Is(err, ErrDeviceError) || errors.Is(err, ErrUnsupportedFormat) {
		return err
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
