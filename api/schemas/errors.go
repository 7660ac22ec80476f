package schemas

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind is a stable, log-friendly identifier for a failure category.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindCameraUnavailable ErrorKind = "camera_unavailable"
	KindCapture           ErrorKind = "capture_error"
	KindResponseEmpty     ErrorKind = "response_empty"
	KindSchemaViolation   ErrorKind = "schema_violation"
	KindNetwork           ErrorKind = "network_error"
	KindUnknown           ErrorKind = "unknown"
)

// String returns the string representation of the ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

// IsCamera reports whether the kind originates below the pipeline, in the frame source.
func (k ErrorKind) IsCamera() bool {
	return k == KindCameraUnavailable || k == KindCapture
}

// -- Sentinel Errors --
// Producers wrap these with fmt.Errorf("%w: ...") so errors.Is keeps working
// across package boundaries.
var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrCapture           = errors.New("frame capture failed")
	ErrResponseEmpty     = errors.New("analysis service returned no text")
	ErrSchemaViolation   = errors.New("analysis response violates the expected schema")
	ErrNetwork           = errors.New("analysis service unreachable")

	// ErrInvalidFrame is a capture failure detected before any network call.
	ErrInvalidFrame = fmt.Errorf("%w: invalid frame", ErrCapture)
)

// KindOf classifies err into the taxonomy. Context expiry and transport level
// errors that were not wrapped by their producer still classify as network errors.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCameraUnavailable):
		return KindCameraUnavailable
	case errors.Is(err, ErrCapture):
		return KindCapture
	case errors.Is(err, ErrResponseEmpty):
		return KindResponseEmpty
	case errors.Is(err, ErrSchemaViolation):
		return KindSchemaViolation
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetwork
	}
	return KindUnknown
}
