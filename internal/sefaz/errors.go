package sefaz

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient is matched by TransientTransportError: the call may be retried.
	ErrTransient = errors.New("transient transport failure")

	// ErrRejected is matched by BusinessRejection: the authority refused the document.
	ErrRejected = errors.New("document rejected by the authority")

	// ErrUnclassified is matched by UnclassifiedResponse. It is never treated as success.
	ErrUnclassified = errors.New("unclassified authority response")

	// ErrNotFound is returned by Query when the authority has no record of the key.
	ErrNotFound = errors.New("access key not found at the authority")

	// ErrInvalidEnvironment is returned for environments other than production or homologation.
	ErrInvalidEnvironment = errors.New("invalid environment")
)

// TransientTransportError covers network failures, timeouts, HTTP 5xx and the
// authority's "service unavailable" codes.
type TransientTransportError struct {
	Op         string
	StatusCode int    // HTTP status, 0 when no response arrived
	Code       string // cStat, when the authority answered
	Err        error
}

// Error implements the error interface.
func (e *TransientTransportError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("sefaz: %s: service unavailable (cStat %s): %v", e.Op, e.Code, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("sefaz: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sefaz: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientTransportError) Unwrap() error { return e.Err }

// Is matches ErrTransient.
func (e *TransientTransportError) Is(target error) bool { return target == ErrTransient }

// BusinessRejection carries the authority's status code and literal reason.
type BusinessRejection struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("sefaz: rejected (cStat %s): %s", e.Code, e.Message)
}

// Is matches ErrRejected.
func (e *BusinessRejection) Is(target error) bool { return target == ErrRejected }

// UnclassifiedResponse is any answer outside the known code ranges, or an HTTP
// status that is neither success nor server error.
type UnclassifiedResponse struct {
	Code       string
	Message    string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *UnclassifiedResponse) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sefaz: unclassified response (cStat %s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("sefaz: unexpected HTTP %d", e.StatusCode)
}

// Is matches ErrUnclassified.
func (e *UnclassifiedResponse) Is(target error) bool { return target == ErrUnclassified }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
