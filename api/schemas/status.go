package schemas

// AnalysisStatus is the single process-wide status of the capture pipeline.
type AnalysisStatus string

const (
	StatusIdle      AnalysisStatus = "IDLE"
	StatusAnalyzing AnalysisStatus = "ANALYZING"
	StatusSuccess   AnalysisStatus = "SUCCESS"
	StatusError     AnalysisStatus = "ERROR"
)

// String returns the string representation of the AnalysisStatus.
func (s AnalysisStatus) String() string {
	return string(s)
}

// CanCapture reports whether a new capture may start from this status.
func (s AnalysisStatus) CanCapture() bool {
	return s != StatusAnalyzing
}

// PipelineState is a read-only snapshot of the controller's state, handed to
// presentation layers. Mutating a snapshot never affects the controller.
type PipelineState struct {
	CurrentResult  *ExpressionResult  `json:"currentResult"`
	History        []ExpressionResult `json:"history"`
	Status         AnalysisStatus     `json:"status"`
	ContinuousMode bool               `json:"continuousMode"`
	LastError      string             `json:"lastError,omitempty"`
	// LastErrorKind is kept for logs and tests; the view renders LastError only.
	LastErrorKind ErrorKind `json:"lastErrorKind,omitempty"`
}
