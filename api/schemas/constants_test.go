package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// TestConstants verifies the string values that appear in snapshots and logs.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant fmt.Stringer
		expected string
	}{
		// Statuses
		{"StatusIdle", schemas.StatusIdle, "IDLE"},
		{"StatusAnalyzing", schemas.StatusAnalyzing, "ANALYZING"},
		{"StatusSuccess", schemas.StatusSuccess, "SUCCESS"},
		{"StatusError", schemas.StatusError, "ERROR"},

		// Error kinds
		{"KindNone", schemas.KindNone, ""},
		{"KindCameraUnavailable", schemas.KindCameraUnavailable, "camera_unavailable"},
		{"KindCapture", schemas.KindCapture, "capture_error"},
		{"KindResponseEmpty", schemas.KindResponseEmpty, "response_empty"},
		{"KindSchemaViolation", schemas.KindSchemaViolation, "schema_violation"},
		{"KindNetwork", schemas.KindNetwork, "network_error"},
		{"KindUnknown", schemas.KindUnknown, "unknown"},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.constant.String())
		})
	}
}

func TestErrorKind_IsCamera(t *testing.T) {
	t.Parallel()
	assert.True(t, schemas.KindCameraUnavailable.IsCamera())
	assert.True(t, schemas.KindCapture.IsCamera())
	assert.False(t, schemas.KindNetwork.IsCamera())
	assert.False(t, schemas.KindSchemaViolation.IsCamera())
	assert.False(t, schemas.KindNone.IsCamera())
}
