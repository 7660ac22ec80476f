// internal/camera/snapshot.go
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// maxSnapshotBytes bounds a single snapshot download.
const maxSnapshotBytes = 20 << 20

// SnapshotSource pulls JPEG stills from an IP camera's snapshot endpoint.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates a source for rawURL. A nil client gets one with timeout.
func NewSnapshotSource(rawURL string, timeout time.Duration, client *http.Client) *SnapshotSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &SnapshotSource{url: rawURL, client: client}
}

func (s *SnapshotSource) Acquire(ctx context.Context) (schemas.DeviceHandle, error) {
	u, err := url.Parse(s.url)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid snapshot URL %q", schemas.ErrCameraUnavailable, s.url)
	}
	return &handle{name: "snapshot:" + u.Host}, nil
}

func (s *SnapshotSource) Capture(ctx context.Context, h schemas.DeviceHandle) (schemas.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: %v", schemas.ErrCapture, err)
	}
	req.Header.Set("Accept", "image/jpeg, image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: snapshot endpoint unreachable: %v", schemas.ErrCameraUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schemas.Frame{}, fmt.Errorf("%w: snapshot endpoint returned %d", schemas.ErrCapture, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: reading snapshot: %v", schemas.ErrCapture, err)
	}
	if len(data) == 0 {
		return schemas.Frame{}, fmt.Errorf("%w: snapshot body is empty", schemas.ErrCapture)
	}

	mt := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	if !strings.HasPrefix(mt, "image/") {
		mt = sniffImageType(data)
	}
	if mt == "" {
		return schemas.Frame{}, fmt.Errorf("%w: snapshot is not an image", schemas.ErrCapture)
	}
	return schemas.Frame{Data: data, MIMEType: mt, CapturedAt: time.Now()}, nil
}

func (s *SnapshotSource) Release(h schemas.DeviceHandle) error { return nil }
