package overpass

import (
	"errors"
	"fmt"
)

var (
	// ErrVetoed is reported when a before-request hook declines a request.
	ErrVetoed = errors.New("overpass: request vetoed")

	// ErrTimeout is returned when no response arrives within the request timeout.
	ErrTimeout = errors.New("overpass: request timed out")
)

// StatusError is a response with a status outside [200,400).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("overpass: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("overpass: upstream status %d: %s", e.StatusCode, e.Body)
}

// MalformedResponseError wraps a body that could not be decoded.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return "overpass: malformed response: " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// Labels returned by Kind.
const (
	KindOK        = "ok"
	KindVetoed    = "vetoed"
	KindTimeout   = "timeout"
	KindStatus    = "status"
	KindMalformed = "malformed"
	KindTransport = "transport"
)

// Kind buckets an error into the label used for logs and metrics.
func Kind(err error) string {
	var se *StatusError
	var me *MalformedResponseError
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, ErrVetoed):
		return KindVetoed
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &se):
		return KindStatus
	case errors.As(err, &me):
		return KindMalformed
	default:
		return KindTransport
	}
}
