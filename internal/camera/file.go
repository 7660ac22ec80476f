// internal/camera/file.go
package camera

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// FileSource serves a still image from disk. It stands in for a camera in
// one-shot analysis and in tests.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading path on every capture.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Acquire(ctx context.Context) (schemas.DeviceHandle, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrCameraUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", schemas.ErrCameraUnavailable, s.path)
	}
	return &handle{name: "file:" + s.path}, nil
}

func (s *FileSource) Capture(ctx context.Context, h schemas.DeviceHandle) (schemas.Frame, error) {
	if err := ctx.Err(); err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: %v", schemas.ErrCapture, err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: %v", schemas.ErrCapture, err)
	}
	if len(data) == 0 {
		return schemas.Frame{}, fmt.Errorf("%w: %s is empty", schemas.ErrCapture, s.path)
	}
	mt := sniffImageType(data)
	if mt == "" {
		return schemas.Frame{}, fmt.Errorf("%w: %s is not an image", schemas.ErrCapture, s.path)
	}
	return schemas.Frame{Data: data, MIMEType: mt, CapturedAt: time.Now()}, nil
}

func (s *FileSource) Release(h schemas.DeviceHandle) error { return nil }
