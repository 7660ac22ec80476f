package schemas

import (
	"context"
	"time"
)

// -- Analysis Interface --

// Analyzer turns one encoded still image into a validated ExpressionResult.
// Each call is independent and at-most-once: implementations never retry and
// never cache.
//
//go:generate mockery --name Analyzer --output ../../internal/mocks --outpkg mocks
type Analyzer interface {
	// Analyze sends the image to the external vision service. It blocks until the
	// service answers, the context ends, or the configured timeout expires.
	Analyze(ctx context.Context, image []byte, mimeType string) (*ExpressionResult, error)
}

// -- Frame Source Interfaces --

// Frame is a single encoded still image.
type Frame struct {
	Data       []byte
	MIMEType   string
	CapturedAt time.Time
}

// DeviceHandle is an opaque, acquired camera device.
type DeviceHandle interface {
	// Device names the underlying device for logging.
	Device() string
}

// FrameSource owns a camera device. Acquisition is scoped: every handle returned
// by Acquire must be passed to Release on every exit path.
type FrameSource interface {
	// Acquire opens the device. It fails with ErrCameraUnavailable.
	Acquire(ctx context.Context) (DeviceHandle, error)
	// Capture produces one still image from an acquired device. It fails with ErrCapture.
	Capture(ctx context.Context, h DeviceHandle) (Frame, error)
	// Release frees the device.
	Release(h DeviceHandle) error
}

// -- Store Interface --

// ResultStore persists successful analyses. The pipeline works without one;
// persistence never influences the pipeline status.
type ResultStore interface {
	// SaveResult records one successful analysis.
	SaveResult(ctx context.Context, result ExpressionResult) error
	// RecentResults returns up to limit records, newest first.
	RecentResults(ctx context.Context, limit int) ([]ExpressionResult, error)
	// Close releases the underlying connection pool.
	Close() error
}
