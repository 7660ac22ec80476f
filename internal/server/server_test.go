package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/mocks"
	"github.com/xkilldash9x/moodlens/internal/pipeline"
)

var jpegUpload = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func testResult(emotion string) *schemas.ExpressionResult {
	return &schemas.ExpressionResult{
		PrimaryEmotion:   emotion,
		SecondaryEmotion: "calm",
		Confidence:       0.9,
		Explanation:      "Broad smile.",
		Cues:             []string{"smile"},
		EmotionBreakdown: []schemas.EmotionScore{{Emotion: emotion, Score: 0.9}},
		Timestamp:        time.Now().UnixMilli(),
	}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:           "127.0.0.1:0",
		CaptureRatePerMinute: 0,
		MaxFrameBytes:        1 << 20,
		ShutdownTimeout:      time.Second,
	}
}

type fixture struct {
	srv      *Server
	ctrl     *pipeline.Controller
	analyzer *mocks.MockAnalyzer
	http     *httptest.Server
}

func newFixture(t *testing.T, cfg config.ServerConfig, camera schemas.FrameSource, store schemas.ResultStore) *fixture {
	t.Helper()
	analyzer := new(mocks.MockAnalyzer)
	ctrl := pipeline.NewController(analyzer, config.PipelineConfig{
		HistorySize:     50,
		AnalysisTimeout: 2 * time.Second,
		MIMEType:        "image/jpeg",
	}, zap.NewNop())
	srv := New(cfg, ctrl, camera, store, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctrl.Close()
	})
	return &fixture{srv: srv, ctrl: ctrl, analyzer: analyzer, http: ts}
}

func (f *fixture) post(t *testing.T, path, contentType string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.http.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.http.Client().Get(f.http.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthAndState(t *testing.T) {
	f := newFixture(t, testServerConfig(), nil, nil)

	resp := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	decode(t, resp, &health)
	assert.Equal(t, healthResponse{Status: "ok", ServerCamera: false}, health)

	resp = f.get(t, "/api/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var state schemas.PipelineState
	decode(t, resp, &state)
	assert.Equal(t, schemas.StatusIdle, state.Status)
	assert.Nil(t, state.CurrentResult)
	assert.NotNil(t, state.History)
	assert.False(t, state.ContinuousMode)
}

func TestHealth_ReportsServerCamera(t *testing.T) {
	f := newFixture(t, testServerConfig(), new(mocks.MockFrameSource), nil)

	resp := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	decode(t, resp, &health)
	assert.True(t, health.ServerCamera, "views skip their own webcam when the server captures")
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t, testServerConfig(), nil, nil)
	resp := f.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "getUserMedia")
	assert.Contains(t, string(body), "health.serverCamera")
}

func TestCapture_Upload(t *testing.T) {
	f := newFixture(t, testServerConfig(), nil, nil)
	f.analyzer.On("Analyze", mock.Anything, jpegUpload, "image/jpeg").Return(testResult("joy"), nil).Once()

	resp := f.post(t, "/api/capture", "image/jpeg", jpegUpload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var body captureResponse
	decode(t, resp, &body)
	assert.True(t, body.Accepted)

	f.ctrl.Wait()
	state := f.ctrl.Snapshot()
	assert.Equal(t, schemas.StatusSuccess, state.Status)
	require.NotNil(t, state.CurrentResult)
	assert.Equal(t, "joy", state.CurrentResult.PrimaryEmotion)
	f.analyzer.AssertExpectations(t)
}

func TestCapture_UntypedUploadIsSniffed(t *testing.T) {
	f := newFixture(t, testServerConfig(), nil, nil)
	f.analyzer.On("Analyze", mock.Anything, jpegUpload, "image/jpeg").Return(testResult("joy"), nil).Once()

	resp := f.post(t, "/api/capture", "application/octet-stream", jpegUpload)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.ctrl.Wait()
	f.analyzer.AssertExpectations(t)
}

func TestCapture_Rejections(t *testing.T) {
	t.Run("not an image", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		resp := f.post(t, "/api/capture", "text/plain", []byte("hello"))
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

		resp = f.post(t, "/api/capture", "application/octet-stream", []byte("hello"))
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
		f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("too large", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.MaxFrameBytes = 4
		f := newFixture(t, cfg, nil, nil)
		resp := f.post(t, "/api/capture", "image/jpeg", jpegUpload)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, schemas.StatusIdle, f.ctrl.Snapshot().Status)
	})

	t.Run("empty body without a server camera", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		resp := f.post(t, "/api/capture", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var body errorResponse
		decode(t, resp, &body)
		assert.Equal(t, msgNoCamera, body.Error)
	})

	t.Run("busy", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		release := make(chan struct{})
		f.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(testResult("joy"), nil).Once()

		resp := f.post(t, "/api/capture", "image/jpeg", jpegUpload)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = f.post(t, "/api/capture", "image/jpeg", jpegUpload)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)

		close(release)
		f.ctrl.Wait()
		f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	})

	t.Run("rate limited", func(t *testing.T) {
		cfg := testServerConfig()
		cfg.CaptureRatePerMinute = 1
		f := newFixture(t, cfg, nil, nil)
		f.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(testResult("joy"), nil).Once()

		resp := f.post(t, "/api/capture", "image/jpeg", jpegUpload)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		f.ctrl.Wait()

		resp = f.post(t, "/api/capture", "image/jpeg", jpegUpload)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "60", resp.Header.Get("Retry-After"))
		f.analyzer.AssertNumberOfCalls(t, "Analyze", 1)
	})
}

func TestCapture_ServerCamera(t *testing.T) {
	handle := &mocks.MockDeviceHandle{Name: "cam0"}
	frame := schemas.Frame{Data: []byte{0xFF, 0xD8, 0xFF}, MIMEType: "image/jpeg"}

	t.Run("captures from the configured source", func(t *testing.T) {
		src := new(mocks.MockFrameSource)
		src.On("Acquire", mock.Anything).Return(handle, nil)
		src.On("Capture", mock.Anything, handle).Return(frame, nil)
		src.On("Release", handle).Return(nil)

		f := newFixture(t, testServerConfig(), src, nil)
		f.analyzer.On("Analyze", mock.Anything, frame.Data, "image/jpeg").Return(testResult("calm"), nil).Once()

		resp := f.post(t, "/api/capture", "", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		f.ctrl.Wait()

		assert.Equal(t, schemas.StatusSuccess, f.ctrl.Snapshot().Status)
		assert.Zero(t, src.OpenHandles())
	})

	t.Run("camera failure lands in the error state", func(t *testing.T) {
		src := new(mocks.MockFrameSource)
		src.On("Acquire", mock.Anything).Return(nil, errors.New("NotAllowedError"))

		f := newFixture(t, testServerConfig(), src, nil)
		resp := f.post(t, "/api/capture", "", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		f.ctrl.Wait()

		state := f.ctrl.Snapshot()
		assert.Equal(t, schemas.StatusError, state.Status)
		assert.Equal(t, pipeline.MsgCameraUnavailable, state.LastError)
		f.analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestToggleContinuous(t *testing.T) {
	f := newFixture(t, testServerConfig(), nil, nil)

	var state schemas.PipelineState
	decode(t, f.post(t, "/api/continuous/toggle", "", nil), &state)
	assert.True(t, state.ContinuousMode)
	assert.Equal(t, schemas.StatusIdle, state.Status, "toggling never changes status")

	decode(t, f.post(t, "/api/continuous/toggle", "", nil), &state)
	assert.False(t, state.ContinuousMode)
}

func TestHistory(t *testing.T) {
	t.Run("memory history with limit", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		f.ctrl.Restore([]schemas.ExpressionResult{*testResult("c"), *testResult("b"), *testResult("a")})

		var body historyResponse
		decode(t, f.get(t, "/api/history?limit=2"), &body)
		assert.Equal(t, "memory", body.Source)
		require.Len(t, body.Records, 2)
		assert.Equal(t, "c", body.Records[0].PrimaryEmotion)
		assert.Equal(t, "b", body.Records[1].PrimaryEmotion)
	})

	t.Run("bad limit", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		for _, q := range []string{"0", "-1", "ten"} {
			resp := f.get(t, "/api/history?limit="+q)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		}
	})

	t.Run("store history", func(t *testing.T) {
		store := new(mocks.MockResultStore)
		store.On("RecentResults", mock.Anything, 5).Return([]schemas.ExpressionResult{*testResult("joy")}, nil).Once()

		f := newFixture(t, testServerConfig(), nil, store)
		var body historyResponse
		decode(t, f.get(t, "/api/history?source=store&limit=5"), &body)
		assert.Equal(t, "store", body.Source)
		require.Len(t, body.Records, 1)
		store.AssertExpectations(t)
	})

	t.Run("store failure", func(t *testing.T) {
		store := new(mocks.MockResultStore)
		store.On("RecentResults", mock.Anything, 0).Return(nil, errors.New("db down")).Once()

		f := newFixture(t, testServerConfig(), nil, store)
		resp := f.get(t, "/api/history?source=store")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("no store configured", func(t *testing.T) {
		f := newFixture(t, testServerConfig(), nil, nil)
		resp := f.get(t, "/api/history?source=store")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestUploadMIMEType(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "", true},
		{"image/png", "image/png", true},
		{"image/jpeg; charset=binary", "image/jpeg", true},
		{"application/octet-stream", "", true},
		{"text/plain", "", false},
		{"garbage;;", "", false},
	}
	for _, tt := range tests {
		got, ok := uploadMIMEType(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestNewCaptureLimiter(t *testing.T) {
	unlimited := newCaptureLimiter(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}

	limited := newCaptureLimiter(20)
	assert.Equal(t, 2, limited.Burst())
	assert.True(t, limited.Allow())
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())

	assert.Equal(t, 3, retryAfterSeconds(20))
	assert.Equal(t, 1, retryAfterSeconds(0))
}

func TestServe_GracefulShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := pipeline.NewController(new(mocks.MockAnalyzer), config.PipelineConfig{HistorySize: 50}, zap.NewNop())
	defer ctrl.Close()
	srv := New(testServerConfig(), ctrl, nil, nil, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRun_ListenError(t *testing.T) {
	cfg := testServerConfig()
	cfg.ListenAddr = "not-an-address"
	srv := New(cfg, pipeline.NewController(new(mocks.MockAnalyzer), config.PipelineConfig{}, zap.NewNop()), nil, nil, zap.NewNop())
	err := srv.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to listen"))
}
