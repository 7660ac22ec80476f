// internal/camera/camera.go
package camera

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
)

// handle is the DeviceHandle shared by the simple sources.
type handle struct {
	name string
}

func (h *handle) Device() string { return h.name }

// New builds the configured FrameSource. It returns (nil, nil) when no
// server-side camera is configured; frames then arrive through the HTTP API.
func New(cfg config.CameraConfig, logger *zap.Logger) (schemas.FrameSource, error) {
	switch cfg.Source {
	case config.CameraSourceNone, "":
		return nil, nil
	case config.CameraSourceFile:
		return NewFileSource(cfg.Path), nil
	case config.CameraSourceSnapshot:
		return NewSnapshotSource(cfg.URL, cfg.Timeout, nil), nil
	case config.CameraSourceBrowser:
		return NewBrowserSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported camera source '%s'", cfg.Source)
	}
}

// sniffImageType returns the MIME type of an encoded image, or "" when the
// bytes are not a recognised still image.
func sniffImageType(data []byte) string {
	mt := http.DetectContentType(data)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	if !strings.HasPrefix(mt, "image/") {
		return ""
	}
	return mt
}
