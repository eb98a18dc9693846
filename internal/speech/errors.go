// Package speech holds the error taxonomy shared by the speech, clipboard,
// and share adapters and the sessions that drive them.
package speech

import (
	"errors"
	"fmt"
)

// ErrCapabilityUnavailable means the configured platform has no
// implementation of a required capability. Clients see it as a blocking alert.
var ErrCapabilityUnavailable = errors.New("capability unavailable")

// AdapterError is a failure reported by a recognition or synthesis backend.
// Sessions recover from it by returning to idle.
type AdapterError struct {
	Backend string // e.g. "deepgram", "piper"
	Op      string // e.g. "start", "synthesize"
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Wrap returns err as an *AdapterError, or nil if err is nil. Errors that
// already are capability or adapter errors are returned unchanged.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AdapterError
	if errors.As(err, &ae) || errors.Is(err, ErrCapabilityUnavailable) {
		return err
	}
	return &AdapterError{Backend: backend, Op: op, Err: err}
}

// Kind classifies err for clients: "capability_unavailable", "adapter", or "internal".
func Kind(err error) string {
	var ae *AdapterError
	switch {
	case errors.Is(err, ErrCapabilityUnavailable):
		return "capability_unavailable"
	case errors.As(err, &ae):
		return "adapter"
	default:
		return "internal"
	}
}

// Public returns the text of err that may be shown to clients. Adapter
// errors carry backend detail such as upstream response bodies, so they
// are reduced to a fixed message; the detail belongs in the server log.
func Public(err error) string {
	var ae *AdapterError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapabilityUnavailable):
		return err.Error()
	case errors.As(err, &ae):
		if ae.Op == "synthesize" {
			return "speech synthesis failed"
		}
		return "speech recognition failed"
	default:
		return err.Error()
	}
}
