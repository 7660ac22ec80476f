package schemas

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// -- Expression Schemas --

// EmotionScore is one named weight in an emotion breakdown. The breakdown is an
// unordered set; duplicates are kept and the scores are not normalized.
type EmotionScore struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// ExpressionResult is the validated outcome of a single analysis. It is built
// once by an Analyzer and must be treated as immutable afterwards.
type ExpressionResult struct {
	PrimaryEmotion   string         `json:"primaryEmotion"`
	SecondaryEmotion string         `json:"secondaryEmotion"`
	Confidence       float64        `json:"confidence"`
	Explanation      string         `json:"explanation"`
	Cues             []string       `json:"cues"`
	EmotionBreakdown []EmotionScore `json:"emotionBreakdown"`
	// Timestamp is stamped locally at receipt time, in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the receipt timestamp as a time.Time in UTC.
func (r ExpressionResult) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Clone returns a deep copy so callers holding a snapshot cannot alias the
// controller's slices.
func (r *ExpressionResult) Clone() *ExpressionResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Cues != nil {
		c.Cues = append(make([]string, 0, len(r.Cues)), r.Cues...)
	}
	if r.EmotionBreakdown != nil {
		c.EmotionBreakdown = append(make([]EmotionScore, 0, len(r.EmotionBreakdown)), r.EmotionBreakdown...)
	}
	return &c
}

// Validate checks the range and presence rules of the record. Presence of the
// JSON keys themselves is checked by the wire parser, which sees the raw payload.
func (r *ExpressionResult) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: result is nil", ErrSchemaViolation)
	}
	if !InUnitInterval(r.Confidence) {
		return fmt.Errorf("%w: confidence %v is outside [0,1]", ErrSchemaViolation, r.Confidence)
	}
	if r.Cues == nil {
		return fmt.Errorf("%w: cues is required", ErrSchemaViolation)
	}
	if r.EmotionBreakdown == nil {
		return fmt.Errorf("%w: emotionBreakdown is required", ErrSchemaViolation)
	}
	for i, s := range r.EmotionBreakdown {
		if strings.TrimSpace(s.Emotion) == "" {
			return fmt.Errorf("%w: emotionBreakdown[%d].emotion must be non-empty", ErrSchemaViolation, i)
		}
		if !InUnitInterval(s.Score) {
			return fmt.Errorf("%w: emotionBreakdown[%d].score %v is outside [0,1]", ErrSchemaViolation, i, s.Score)
		}
	}
	return nil
}

// InUnitInterval reports whether v lies in [0,1]. NaN is never in range.
func InUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
