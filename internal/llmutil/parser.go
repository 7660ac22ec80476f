// internal/llmutil/parser.go
package llmutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// jsonFenceRegex matches a single JSON object wrapped in a markdown fence. The
// backticks are written as \x60 because a raw string cannot contain them.
var jsonFenceRegex = regexp.MustCompile("(?s)^\x60\x60\x60(?:json)?\\s*(\\{.*\\})\\s*\x60\x60\x60$")

// Field names of the wire schema, in declaration order.
const (
	FieldPrimaryEmotion   = "primaryEmotion"
	FieldSecondaryEmotion = "secondaryEmotion"
	FieldConfidence       = "confidence"
	FieldExplanation      = "explanation"
	FieldCues             = "cues"
	FieldEmotionBreakdown = "emotionBreakdown"
)

// RequiredFields lists every key the model must return.
var RequiredFields = []string{
	FieldPrimaryEmotion,
	FieldSecondaryEmotion,
	FieldConfidence,
	FieldExplanation,
	FieldCues,
	FieldEmotionBreakdown,
}

// wireScore is one breakdown entry as the model sends it.
type wireScore struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// wireExpression is the record as sent over the wire; it has no timestamp.
type wireExpression struct {
	PrimaryEmotion   string      `json:"primaryEmotion"`
	SecondaryEmotion string      `json:"secondaryEmotion"`
	Confidence       float64     `json:"confidence"`
	Explanation      string      `json:"explanation"`
	Cues             []string    `json:"cues"`
	EmotionBreakdown []wireScore `json:"emotionBreakdown"`
}

// ParseExpression decodes the model's text into a validated ExpressionResult
// stamped with now. Blank text fails with ErrResponseEmpty; anything that is
// not exactly one JSON object carrying every required field with the right
// type and range fails with ErrSchemaViolation. Unknown keys are ignored.
func ParseExpression(text string, now time.Time) (*schemas.ExpressionResult, error) {
	payload := strings.TrimSpace(text)
	if payload == "" {
		return nil, schemas.ErrResponseEmpty
	}
	if m := jsonFenceRegex.FindStringSubmatch(payload); len(m) > 1 {
		payload = m[1]
	}

	fields, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}

	result := &schemas.ExpressionResult{Timestamp: now.UnixMilli()}
	if result.PrimaryEmotion, err = stringField(fields, FieldPrimaryEmotion); err != nil {
		return nil, err
	}
	if result.SecondaryEmotion, err = stringField(fields, FieldSecondaryEmotion); err != nil {
		return nil, err
	}
	if result.Confidence, err = numberField(fields, FieldConfidence); err != nil {
		return nil, err
	}
	if result.Explanation, err = stringField(fields, FieldExplanation); err != nil {
		return nil, err
	}

	raw, err := present(fields, FieldCues)
	if err != nil {
		return nil, err
	}
	if err := strictUnmarshal(raw, &result.Cues); err != nil {
		return nil, violation("%s must be an array of strings: %v", FieldCues, err)
	}

	if raw, err = present(fields, FieldEmotionBreakdown); err != nil {
		return nil, err
	}
	scores, err := decodeBreakdown(raw)
	if err != nil {
		return nil, err
	}
	result.EmotionBreakdown = scores

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// EncodeExpression renders r in the wire form the model is asked to produce.
// The timestamp is local metadata and is not part of it.
func EncodeExpression(r *schemas.ExpressionResult) ([]byte, error) {
	if r == nil {
		return nil, errors.New("cannot encode a nil result")
	}
	w := wireExpression{
		PrimaryEmotion:   r.PrimaryEmotion,
		SecondaryEmotion: r.SecondaryEmotion,
		Confidence:       r.Confidence,
		Explanation:      r.Explanation,
		Cues:             r.Cues,
		EmotionBreakdown: make([]wireScore, 0, len(r.EmotionBreakdown)),
	}
	if w.Cues == nil {
		w.Cues = []string{}
	}
	for _, s := range r.EmotionBreakdown {
		w.EmotionBreakdown = append(w.EmotionBreakdown, wireScore{Emotion: s.Emotion, Score: s.Score})
	}
	return json.Marshal(w)
}

// -- decoding helpers --

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", schemas.ErrSchemaViolation, fmt.Sprintf(format, args...))
}

// decodeObject accepts exactly one JSON object and nothing after it.
func decodeObject(payload string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, violation("response is not a JSON object: %v. Payload (truncated): %s", err, truncateString(payload, 200))
	}
	if fields == nil {
		return nil, violation("response is null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, violation("unexpected data after the JSON object")
	}
	return fields, nil
}

// present returns the raw value of a required key, rejecting absent keys and nulls.
func present(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, violation("missing required field %s", name)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, violation("field %s is null", name)
	}
	return raw, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, err := present(fields, name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", violation("field %s must be a string", name)
	}
	return s, nil
}

func numberField(fields map[string]json.RawMessage, name string) (float64, error) {
	raw, err := present(fields, name)
	if err != nil {
		return 0, err
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, violation("field %s must be a number", name)
	}
	return f, nil
}

// strictUnmarshal rejects nulls nested inside arrays, which encoding/json would
// otherwise turn into zero values.
func strictUnmarshal(raw json.RawMessage, v *[]string) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if bytes.Equal(bytes.TrimSpace(item), []byte("null")) {
			return fmt.Errorf("element %d is null", i)
		}
		if err := json.Unmarshal(item, &s); err != nil {
			return fmt.Errorf("element %d is not a string", i)
		}
		out = append(out, s)
	}
	*v = out
	return nil
}

func decodeBreakdown(raw json.RawMessage) ([]schemas.EmotionScore, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, violation("%s must be an array of objects", FieldEmotionBreakdown)
	}
	scores := make([]schemas.EmotionScore, 0, len(items))
	for i, item := range items {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(item, &entry); err != nil || entry == nil {
			return nil, violation("%s[%d] must be an object", FieldEmotionBreakdown, i)
		}
		emotion, err := stringField(entry, "emotion")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", FieldEmotionBreakdown, i, err)
		}
		score, err := numberField(entry, "score")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", FieldEmotionBreakdown, i, err)
		}
		scores = append(scores, schemas.EmotionScore{Emotion: emotion, Score: score})
	}
	return scores, nil
}

// truncateString truncates a string to a maximum length for error messages.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
