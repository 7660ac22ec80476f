// internal/camera/browser.go
package camera

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
)

// capturePage opens the camera with getUserMedia and exposes helpers the
// source drives through Runtime.evaluate. It is served from 127.0.0.1, which
// browsers treat as a secure context.
const capturePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>moodlens capture</title></head>
<body>
<video id="v" autoplay playsinline muted></video>
<canvas id="c" style="display:none"></canvas>
<script>
let stream = null;
window.startCamera = async (w, h) => {
  try {
    stream = await navigator.mediaDevices.getUserMedia({
      video: { facingMode: 'user', width: { ideal: w }, height: { ideal: h } }
    });
    const v = document.getElementById('v');
    v.srcObject = stream;
    if (!v.videoWidth) {
      await new Promise((resolve) => { v.onloadedmetadata = resolve; });
    }
    await v.play();
    const track = stream.getVideoTracks()[0];
    return 'ok:' + (track ? track.label : '');
  } catch (e) {
    return 'error:' + e.name + ':' + e.message;
  }
};
window.captureFrame = (quality) => {
  const v = document.getElementById('v');
  if (!stream || !v.videoWidth) return '';
  const c = document.getElementById('c');
  c.width = v.videoWidth;
  c.height = v.videoHeight;
  c.getContext('2d').drawImage(v, 0, 0, c.width, c.height);
  return c.toDataURL('image/jpeg', quality);
};
window.stopCamera = () => {
  if (stream) { stream.getTracks().forEach((t) => t.stop()); stream = null; }
  return true;
};
</script>
</body>
</html>`

// BrowserSource captures webcam frames through a Chrome instance driven by
// chromedp. Each Acquire starts a browser and opens the camera; Release stops
// the camera and the browser.
type BrowserSource struct {
	cfg    config.CameraConfig
	logger *zap.Logger
}

// NewBrowserSource creates an idle source.
func NewBrowserSource(cfg config.CameraConfig, logger *zap.Logger) *BrowserSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 1 {
		cfg.JPEGQuality = 0.8
	}
	return &BrowserSource{cfg: cfg, logger: logger.Named("camera.browser")}
}

type browserHandle struct {
	label       string
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	srv         *http.Server
}

func (h *browserHandle) Device() string { return h.label }

// Acquire launches Chrome, loads the capture page and opens the camera.
func (s *BrowserSource) Acquire(ctx context.Context) (schemas.DeviceHandle, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("%w: capture page listener: %v", schemas.ErrCameraUnavailable, err)
	}
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(capturePage))
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("Capture page server stopped", zap.Error(err))
		}
	}()
	origin := "http://" + ln.Addr().String()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(s.logger.Sugar().Debugf))

	h := &browserHandle{
		label:       "browser:" + origin,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		srv:         srv,
	}

	// The first Run starts the browser and binds its lifetime to tabCtx, so it
	// must not be given a context with a deadline.
	if err := chromedp.Run(tabCtx); err != nil {
		s.teardown(h)
		return nil, fmt.Errorf("%w: starting browser: %v", schemas.ErrCameraUnavailable, err)
	}

	runCtx, cancel := s.boundedContext(ctx, tabCtx)
	defer cancel()

	var status string
	err = chromedp.Run(runCtx,
		browser.GrantPermissions([]browser.PermissionType{browser.PermissionTypeVideoCapture}).WithOrigin(origin),
		chromedp.Navigate(origin+"/"),
		chromedp.Evaluate(fmt.Sprintf("window.startCamera(%d, %d)", s.cfg.Width, s.cfg.Height), &status, awaitPromise),
	)
	if err != nil {
		s.teardown(h)
		return nil, fmt.Errorf("%w: opening capture page: %v", schemas.ErrCameraUnavailable, err)
	}
	if !strings.HasPrefix(status, "ok:") {
		s.teardown(h)
		return nil, fmt.Errorf("%w: getUserMedia failed: %s", schemas.ErrCameraUnavailable, strings.TrimPrefix(status, "error:"))
	}
	if label := strings.TrimPrefix(status, "ok:"); label != "" {
		h.label = label
	}

	s.logger.Info("Camera opened", zap.String("device", h.label), zap.Int("width", s.cfg.Width), zap.Int("height", s.cfg.Height))
	return h, nil
}

// Capture draws the current video frame to a canvas and returns it as JPEG.
func (s *BrowserSource) Capture(ctx context.Context, dh schemas.DeviceHandle) (schemas.Frame, error) {
	h, ok := dh.(*browserHandle)
	if !ok || h == nil {
		return schemas.Frame{}, fmt.Errorf("%w: handle does not belong to the browser source", schemas.ErrCapture)
	}

	runCtx, cancel := s.boundedContext(ctx, h.tabCtx)
	defer cancel()

	var dataURL string
	if err := chromedp.Run(runCtx, chromedp.Evaluate(fmt.Sprintf("window.captureFrame(%g)", s.cfg.JPEGQuality), &dataURL)); err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: %v", schemas.ErrCapture, err)
	}
	data, mimeType, err := decodeDataURL(dataURL)
	if err != nil {
		return schemas.Frame{}, fmt.Errorf("%w: %v", schemas.ErrCapture, err)
	}
	return schemas.Frame{Data: data, MIMEType: mimeType, CapturedAt: time.Now()}, nil
}

// Release stops the media tracks, closes the browser and the page server.
func (s *BrowserSource) Release(dh schemas.DeviceHandle) error {
	h, ok := dh.(*browserHandle)
	if !ok || h == nil {
		return fmt.Errorf("handle does not belong to the browser source")
	}
	stopCtx, cancel := context.WithTimeout(h.tabCtx, 2*time.Second)
	var stopped bool
	if err := chromedp.Run(stopCtx, chromedp.Evaluate("window.stopCamera()", &stopped)); err != nil {
		s.logger.Debug("Stopping camera tracks failed", zap.Error(err))
	}
	cancel()
	return s.teardown(h)
}

func (s *BrowserSource) teardown(h *browserHandle) error {
	h.tabCancel()
	h.allocCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.srv.Shutdown(shutdownCtx)
}

// boundedContext derives from the browser context, applies the configured
// timeout and also ends when the caller's ctx ends.
func (s *BrowserSource) boundedContext(caller, browserCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(browserCtx, s.cfg.Timeout)
	stop := context.AfterFunc(caller, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *BrowserSource) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.WindowSize(s.cfg.Width, s.cfg.Height),
	)
	if s.cfg.FakeDevice {
		opts = append(opts, chromedp.Flag("use-fake-device-for-media-stream", true))
	}
	for key, value := range parseChromeArgs(s.cfg.ChromeArgs) {
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}

// parseChromeArgs turns "--flag" and "--flag=value" strings into allocator flags.
func parseChromeArgs(args []string) map[string]interface{} {
	flags := make(map[string]interface{}, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags[key] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// decodeDataURL decodes a base64 data URL produced by canvas.toDataURL.
func decodeDataURL(dataURL string) ([]byte, string, error) {
	if dataURL == "" || dataURL == "data:," {
		return nil, "", errors.New("video has no frame yet")
	}
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:") || !strings.HasSuffix(header, ";base64") {
		return nil, "", errors.New("malformed data URL")
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode frame: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("empty frame")
	}
	return data, mimeType, nil
}
