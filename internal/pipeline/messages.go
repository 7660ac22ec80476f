// internal/pipeline/messages.go
package pipeline

import "github.com/xkilldash9x/moodlens/api/schemas"

// User-facing messages. Analysis failures of every kind share one message; the
// kind itself stays available on the snapshot and in logs.
const (
	MsgAnalysisFailed    = "Analysis failed. Please try again."
	MsgCameraUnavailable = "Could not access camera. Please check permissions."
	MsgCaptureFailed     = "Could not capture a frame from the camera. Please try again."
)

// DisplayMessage maps an error kind to the string shown to the user. It never
// returns an empty string for a failure.
func DisplayMessage(kind schemas.ErrorKind) string {
	switch kind {
	case schemas.KindNone:
		return ""
	case schemas.KindCameraUnavailable:
		return MsgCameraUnavailable
	case schemas.KindCapture:
		return MsgCaptureFailed
	default:
		return MsgAnalysisFailed
	}
}
