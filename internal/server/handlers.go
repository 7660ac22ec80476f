package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/camera"
)

// Error strings returned in {"error": ...} bodies.
const (
	msgBusy        = "An analysis is already in progress."
	msgRateLimited = "Too many captures. Please wait a moment."
	msgTooLarge    = "Image is too large."
	msgNoCamera    = "No server camera is configured; upload an image instead."
	msgNotImage    = "Upload must be an image."
	msgBadLimit    = "limit must be a positive integer."
	msgNoStore     = "No result store is configured."
	msgStoreFailed = "Could not load stored results."
)

type errorResponse struct {
	Error string `json:"error"`
}

type captureResponse struct {
	Accepted bool                  `json:"accepted"`
	State    schemas.PipelineState `json:"state"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ServerCamera bool   `json:"serverCamera"`
}

type historyResponse struct {
	Source  string                     `json:"source"`
	Records []schemas.ExpressionResult `json:"records"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ServerCamera: s.camera != nil})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

// handleHistory serves the in-memory history, or the persisted records with
// ?source=store. ?limit=N trims either list.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, msgBadLimit)
			return
		}
		limit = n
	}

	if r.URL.Query().Get("source") == "store" {
		if s.store == nil {
			s.writeError(w, http.StatusNotFound, msgNoStore)
			return
		}
		records, err := s.store.RecentResults(r.Context(), limit)
		if err != nil {
			s.logger.Error("Failed to load stored results", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, msgStoreFailed)
			return
		}
		s.writeJSON(w, http.StatusOK, historyResponse{Source: "store", Records: records})
		return
	}

	records := s.ctrl.Snapshot().History
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Source: "memory", Records: records})
}

// handleCapture starts one analysis. A non-empty body is the frame itself;
// an empty body captures from the server camera.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if !s.ctrl.Status().CanCapture() {
		s.writeError(w, http.StatusConflict, msgBusy)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		s.writeError(w, http.StatusBadRequest, "Could not read request body.")
		return
	}

	var src schemas.FrameSource
	if len(body) == 0 {
		if s.camera == nil {
			s.writeError(w, http.StatusServiceUnavailable, msgNoCamera)
			return
		}
		src = s.camera
	} else {
		mimeType, ok := uploadMIMEType(r.Header.Get("Content-Type"))
		if !ok {
			s.writeError(w, http.StatusUnsupportedMediaType, msgNotImage)
			return
		}
		upload := camera.NewStaticSource(body, mimeType)
		if upload.MIMEType() == "" {
			s.writeError(w, http.StatusUnsupportedMediaType, msgNotImage)
			return
		}
		src = upload
	}

	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(s.cfg.CaptureRatePerMinute)))
		s.writeError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	if !s.ctrl.CaptureFrom(r.Context(), src) {
		s.writeError(w, http.StatusConflict, msgBusy)
		return
	}
	s.logger.Debug("Capture accepted", zap.Int("upload_bytes", len(body)))
	s.writeJSON(w, http.StatusAccepted, captureResponse{Accepted: true, State: s.ctrl.Snapshot()})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.ToggleContinuousMode())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// uploadMIMEType resolves the Content-Type of an upload. An empty or generic
// binary type returns "" so the bytes get sniffed; anything else must be image/*.
func uploadMIMEType(contentType string) (string, bool) {
	if contentType == "" {
		return "", true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch {
	case mt == "application/octet-stream":
		return "", true
	case strings.HasPrefix(mt, "image/"):
		return mt, true
	default:
		return "", false
	}
}
