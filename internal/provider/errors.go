package provider

import (
	"errors"
	"fmt"
)

// ErrUnavailable reports that the status source cannot be reached at all.
var ErrUnavailable = errors.New("provider unavailable")

// TransportError reports a reachable source that answered with something other
// than a status, such as a non-200 HTTP response.
type TransportError struct {
	Err        error
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Err)
	}

	return fmt.Sprintf("transport error: unexpected status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
