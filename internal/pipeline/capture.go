// internal/pipeline/capture.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// CaptureFrame acquires src, takes one still image and releases the device on
// every exit path. Acquisition failures carry ErrCameraUnavailable and capture
// failures carry ErrCapture, whatever the source returned.
func CaptureFrame(ctx context.Context, src schemas.FrameSource, defaultMIME string, logger *zap.Logger) (frame schemas.Frame, err error) {
	if src == nil {
		return schemas.Frame{}, fmt.Errorf("%w: no frame source configured", schemas.ErrCameraUnavailable)
	}

	handle, err := src.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, schemas.ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %v", schemas.ErrCameraUnavailable, err)
		}
		return schemas.Frame{}, err
	}
	defer func() {
		if rerr := src.Release(handle); rerr != nil {
			logger.Warn("Failed to release camera device", zap.String("device", handle.Device()), zap.Error(rerr))
		}
	}()

	frame, err = src.Capture(ctx, handle)
	if err != nil {
		if !errors.Is(err, schemas.ErrCapture) && !errors.Is(err, schemas.ErrCameraUnavailable) {
			err = fmt.Errorf("%w: %v", schemas.ErrCapture, err)
		}
		return schemas.Frame{}, err
	}
	if len(frame.Data) == 0 {
		return schemas.Frame{}, fmt.Errorf("%w: device %s produced an empty frame", schemas.ErrCapture, handle.Device())
	}
	if frame.MIMEType == "" {
		frame.MIMEType = defaultMIME
	}
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}
	logger.Debug("Frame captured", zap.String("device", handle.Device()), zap.Int("bytes", len(frame.Data)))
	return frame, nil
}
