package capture

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when a capture is already in flight.
var ErrBusy = errors.New("capture: upload already in progress")

// ValidationError means the capture was refused before any network call.
type ValidationError struct {
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := strings.Join(e.Problems, "; ")
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError covers encode failures, network failures and non-200
// responses. Message holds the server's own message when it sent one.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("upload failed with status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload failed with status %d", e.StatusCode)
	case e.Err != nil:
		return "upload failed: " + e.Err.Error()
	default:
		return "upload failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }
