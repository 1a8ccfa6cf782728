package acquire

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTransient marks probe failures worth retrying. Probers wrap it.
	ErrTransient     = errors.New("transient probe failure")
	ErrProbeCanceled = errors.New("grid acquisition canceled")
	ErrUnknownGroup  = errors.New("unknown grid group")
	ErrNoGridSource  = errors.New("band has no grid and no location to probe")
	ErrCRSMismatch   = errors.New("probed crs differs from dataset crs")
)

// GridAcquisitionError names the band whose grid could not be resolved.
type GridAcquisitionError struct {
	Band     string
	Location string
	Attempts int
	Err      error
}

func (e *GridAcquisitionError) Error() string {
	switch {
	case e.Attempts > 0:
		return fmt.Sprintf("acquire grid for band %q from %s after %d attempt(s): %v", e.Band, e.Location, e.Attempts, e.Err)
	case e.Location != "":
		return fmt.Sprintf("acquire grid for band %q from %s: %v", e.Band, e.Location, e.Err)
	default:
		return fmt.Sprintf("acquire grid for band %q: %v", e.Band, e.Err)
	}
}

func (e *GridAcquisitionError) Unwrap() error { return e.Err }

type temporary interface{ Temporary() bool }
type timeout interface{ Timeout() bool }

// IsTransient reports whether a probe error may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var te temporary
	if errors.As(err, &te) && te.Temporary() {
		return true
	}
	var to timeout
	return errors.As(err, &to) && to.Timeout()
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrProbeCanceled, err)
}

// IsCanceled reports whether err came from caller cancellation rather than a
// failed probe.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrProbeCanceled) || errors.Is(err, context.Canceled)
}
