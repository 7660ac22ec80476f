// internal/camera/static.go
package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// StaticSource yields one frame that was captured elsewhere, such as an
// image uploaded through the HTTP API by a browser client.
type StaticSource struct {
	frame schemas.Frame
}

// NewStaticSource wraps data. An empty mimeType is sniffed from the bytes.
func NewStaticSource(data []byte, mimeType string) *StaticSource {
	if mimeType == "" {
		mimeType = sniffImageType(data)
	}
	return &StaticSource{frame: schemas.Frame{Data: data, MIMEType: mimeType, CapturedAt: time.Now()}}
}

// MIMEType returns the frame's type, "" when it could not be sniffed.
func (s *StaticSource) MIMEType() string { return s.frame.MIMEType }

func (s *StaticSource) Acquire(ctx context.Context) (schemas.DeviceHandle, error) {
	return &handle{name: "upload"}, nil
}

func (s *StaticSource) Capture(ctx context.Context, h schemas.DeviceHandle) (schemas.Frame, error) {
	if len(s.frame.Data) == 0 {
		return schemas.Frame{}, fmt.Errorf("%w: uploaded frame is empty", schemas.ErrCapture)
	}
	return s.frame, nil
}

func (s *StaticSource) Release(h schemas.DeviceHandle) error { return nil }
