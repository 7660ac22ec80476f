package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
)

var (
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

// capture runs the full acquire, capture, release cycle.
func capture(t *testing.T, src schemas.FrameSource) (schemas.Frame, error) {
	t.Helper()
	ctx := context.Background()
	h, err := src.Acquire(ctx)
	if err != nil {
		return schemas.Frame{}, err
	}
	defer func() { assert.NoError(t, src.Release(h)) }()
	return src.Capture(ctx, h)
}

func TestNew(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name    string
		cfg     config.CameraConfig
		want    interface{}
		wantErr bool
	}{
		{name: "none", cfg: config.CameraConfig{Source: config.CameraSourceNone}, want: nil},
		{name: "empty", cfg: config.CameraConfig{}, want: nil},
		{name: "file", cfg: config.CameraConfig{Source: config.CameraSourceFile, Path: "x.jpg"}, want: &FileSource{}},
		{name: "snapshot", cfg: config.CameraConfig{Source: config.CameraSourceSnapshot, URL: "http://cam/snap"}, want: &SnapshotSource{}},
		{name: "browser", cfg: config.CameraConfig{Source: config.CameraSourceBrowser}, want: &BrowserSource{}},
		{name: "unknown", cfg: config.CameraConfig{Source: "v4l2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(tt.cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, src)
				return
			}
			assert.IsType(t, tt.want, src)
		})
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()

	t.Run("reads and sniffs the image", func(t *testing.T) {
		path := filepath.Join(dir, "face.png")
		require.NoError(t, os.WriteFile(path, pngBytes, 0o600))

		frame, err := capture(t, NewFileSource(path))
		require.NoError(t, err)
		assert.Equal(t, pngBytes, frame.Data)
		assert.Equal(t, "image/png", frame.MIMEType)
		assert.False(t, frame.CapturedAt.IsZero())
	})

	t.Run("missing file is camera unavailable", func(t *testing.T) {
		_, err := capture(t, NewFileSource(filepath.Join(dir, "nope.jpg")))
		assert.ErrorIs(t, err, schemas.ErrCameraUnavailable)
	})

	t.Run("directory is camera unavailable", func(t *testing.T) {
		_, err := capture(t, NewFileSource(dir))
		assert.ErrorIs(t, err, schemas.ErrCameraUnavailable)
	})

	t.Run("empty file is a capture error", func(t *testing.T) {
		path := filepath.Join(dir, "empty.jpg")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		_, err := capture(t, NewFileSource(path))
		assert.ErrorIs(t, err, schemas.ErrCapture)
	})

	t.Run("non-image is a capture error", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello, world"), 0o600))
		_, err := capture(t, NewFileSource(path))
		assert.ErrorIs(t, err, schemas.ErrCapture)
	})

	t.Run("cancelled context", func(t *testing.T) {
		path := filepath.Join(dir, "face.jpg")
		require.NoError(t, os.WriteFile(path, jpegBytes, 0o600))
		src := NewFileSource(path)
		h, err := src.Acquire(context.Background())
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = src.Capture(ctx, h)
		assert.ErrorIs(t, err, schemas.ErrCapture)
	})
}

func TestStaticSource(t *testing.T) {
	frame, err := capture(t, NewStaticSource(jpegBytes, ""))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", frame.MIMEType)

	frame, err = capture(t, NewStaticSource(jpegBytes, "image/webp"))
	require.NoError(t, err)
	assert.Equal(t, "image/webp", frame.MIMEType, "an explicit type is kept")

	_, err = capture(t, NewStaticSource(nil, "image/jpeg"))
	assert.ErrorIs(t, err, schemas.ErrCapture)
}

func TestSnapshotSource(t *testing.T) {
	t.Run("returns the image with its content type", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get("Accept"), "image/jpeg")
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			_, _ = w.Write(jpegBytes)
		}))
		defer server.Close()

		frame, err := capture(t, NewSnapshotSource(server.URL+"/snap.jpg", time.Second, server.Client()))
		require.NoError(t, err)
		assert.Equal(t, jpegBytes, frame.Data)
		assert.Equal(t, "image/jpeg", frame.MIMEType)
	})

	t.Run("sniffs when the header is generic", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(pngBytes)
		}))
		defer server.Close()

		frame, err := capture(t, NewSnapshotSource(server.URL, time.Second, nil))
		require.NoError(t, err)
		assert.Equal(t, "image/png", frame.MIMEType)
	})

	failures := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-200", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
		{"not an image", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>login required</html>"))
		}},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			_, err := capture(t, NewSnapshotSource(server.URL, time.Second, nil))
			assert.ErrorIs(t, err, schemas.ErrCapture)
		})
	}

	t.Run("unreachable endpoint is camera unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		addr := server.URL
		server.Close()
		_, err := capture(t, NewSnapshotSource(addr, time.Second, nil))
		assert.ErrorIs(t, err, schemas.ErrCameraUnavailable)
	})

	t.Run("invalid URL fails on acquire", func(t *testing.T) {
		_, err := NewSnapshotSource("ftp://cam/snap", 0, nil).Acquire(context.Background())
		assert.ErrorIs(t, err, schemas.ErrCameraUnavailable)
	})
}

func TestDeviceLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "camera.lock")

	first := NewDeviceLock(path)
	require.NoError(t, first.Acquire())
	assert.Equal(t, path, first.Path())

	second := NewDeviceLock(path)
	err := second.Acquire()
	assert.ErrorIs(t, err, ErrDeviceBusy)

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire(), "lock is free after release")
	require.NoError(t, second.Release())
	assert.NoError(t, second.Release(), "releasing twice is a no-op")
}

func TestParseChromeArgs(t *testing.T) {
	flags := parseChromeArgs([]string{"--disable-gpu", "--lang=en-US", "  ", "no-sandbox"})
	assert.Equal(t, map[string]interface{}{
		"disable-gpu": true,
		"lang":        "en-US",
		"no-sandbox":  true,
	}, flags)
}

func TestDecodeDataURL(t *testing.T) {
	data, mt, err := decodeDataURL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes))
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
	assert.Equal(t, "image/jpeg", mt)

	for _, bad := range []string{"", "data:,", "image/jpeg;base64,AAAA", "data:image/jpeg,AAAA", "data:image/jpeg;base64,%%%"} {
		_, _, err := decodeDataURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewBrowserSource_Defaults(t *testing.T) {
	src := NewBrowserSource(config.CameraConfig{JPEGQuality: 3}, zap.NewNop())
	assert.Equal(t, 15*time.Second, src.cfg.Timeout)
	assert.Equal(t, 0.8, src.cfg.JPEGQuality)
}

func TestBrowserSource_Release_ForeignHandle(t *testing.T) {
	src := NewBrowserSource(config.CameraConfig{}, zap.NewNop())
	assert.Error(t, src.Release(&handle{name: "file:x"}))
	_, err := src.Capture(context.Background(), &handle{name: "file:x"})
	assert.ErrorIs(t, err, schemas.ErrCapture)
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// TestBrowserSource_FakeDevice drives a real headless Chrome with its
// synthetic camera.
func TestBrowserSource_FakeDevice(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if findChrome() == "" {
		t.Skip("no Chrome binary found")
	}

	src := NewBrowserSource(config.CameraConfig{
		Headless:    true,
		FakeDevice:  true,
		Width:       320,
		Height:      240,
		JPEGQuality: 0.7,
		Timeout:     30 * time.Second,
		ChromeArgs:  []string{"--no-sandbox"},
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	h, err := src.Acquire(ctx)
	if errors.Is(err, schemas.ErrCameraUnavailable) {
		t.Skipf("browser could not open the fake camera: %v", err)
	}
	require.NoError(t, err)
	defer func() { assert.NoError(t, src.Release(h)) }()

	frame, err := src.Capture(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", frame.MIMEType)
	assert.Equal(t, "image/jpeg", sniffImageType(frame.Data))
}
