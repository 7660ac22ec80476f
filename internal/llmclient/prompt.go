// internal/llmclient/prompt.go
package llmclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"google.golang.org/genai"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/llmutil"
)

// Instruction is the user turn sent next to the image.
const Instruction = "Analyze the facial expression in this image. Be precise about micro-expressions and subtle cues."

// SystemInstruction sets the model persona.
const SystemInstruction = "You are a world-class psychological expert in facial micro-expressions and emotional intelligence. " +
	"Analyze images of human faces and provide detailed, accurate emotional insights in a structured JSON format."

const schemaName = "ExpressionAnalysis"

// Field descriptions shared by both provider schemas.
const (
	descPrimary   = "The most dominant emotion detected."
	descSecondary = "The second most prominent emotion, if any."
	descConf      = "Confidence score from 0 to 1."
	descExplain   = "Detailed explanation of the analysis."
	descCues      = "Physical facial cues detected (e.g. 'brow furrow', 'corner lip tightening')."
	descBreakdown = "Weight of each detected emotion, each score from 0 to 1."
)

// acceptedMIMETypes are the still-image encodings both providers take inline.
var acceptedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/heic": {},
	"image/heif": {},
}

// validateFrame rejects frames that cannot be sent, before any network call.
func validateFrame(image []byte, mimeType string) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: image is empty", schemas.ErrInvalidFrame)
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if _, ok := acceptedMIMETypes[mt]; !ok {
		return fmt.Errorf("%w: unsupported MIME type %q", schemas.ErrInvalidFrame, mimeType)
	}
	return nil
}

// normalizeMIME strips parameters and case from an accepted MIME type.
func normalizeMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt
}

// -- Gemini schema --

// expressionSchema declares ExpressionResult minus the timestamp in the
// Gemini response-schema dialect.
func expressionSchema() *genai.Schema {
	unit := func(desc string) *genai.Schema {
		return &genai.Schema{
			Type:        genai.TypeNumber,
			Description: desc,
			Minimum:     genai.Ptr(0.0),
			Maximum:     genai.Ptr(1.0),
		}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			llmutil.FieldPrimaryEmotion:   {Type: genai.TypeString, Description: descPrimary},
			llmutil.FieldSecondaryEmotion: {Type: genai.TypeString, Description: descSecondary},
			llmutil.FieldConfidence:       unit(descConf),
			llmutil.FieldExplanation:      {Type: genai.TypeString, Description: descExplain},
			llmutil.FieldCues: {
				Type:        genai.TypeArray,
				Description: descCues,
				Items:       &genai.Schema{Type: genai.TypeString},
			},
			llmutil.FieldEmotionBreakdown: {
				Type:        genai.TypeArray,
				Description: descBreakdown,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"emotion": {Type: genai.TypeString},
						"score":   unit(""),
					},
					Required:         []string{"emotion", "score"},
					PropertyOrdering: []string{"emotion", "score"},
				},
			},
		},
		Required:         llmutil.RequiredFields,
		PropertyOrdering: llmutil.RequiredFields,
	}
}

// -- OpenAI schema --

// schemaScore and schemaExpression exist only to be reflected into a JSON
// Schema for OpenAI structured outputs.
type schemaScore struct {
	Emotion string  `json:"emotion" jsonschema:"required"`
	Score   float64 `json:"score" jsonschema:"required,minimum=0,maximum=1"`
}

type schemaExpression struct {
	PrimaryEmotion   string        `json:"primaryEmotion" jsonschema:"required"`
	SecondaryEmotion string        `json:"secondaryEmotion" jsonschema:"required"`
	Confidence       float64       `json:"confidence" jsonschema:"required,minimum=0,maximum=1"`
	Explanation      string        `json:"explanation" jsonschema:"required"`
	Cues             []string      `json:"cues" jsonschema:"required"`
	EmotionBreakdown []schemaScore `json:"emotionBreakdown" jsonschema:"required"`
}

var fieldDescriptions = map[string]string{
	llmutil.FieldPrimaryEmotion:   descPrimary,
	llmutil.FieldSecondaryEmotion: descSecondary,
	llmutil.FieldConfidence:       descConf,
	llmutil.FieldExplanation:      descExplain,
	llmutil.FieldCues:             descCues,
	llmutil.FieldEmotionBreakdown: descBreakdown,
}

// openAIExpressionSchema reflects schemaExpression and makes it acceptable to
// strict structured outputs: no $schema/$id, every property required, no
// additional properties.
func openAIExpressionSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Anonymous:                  true,
	}
	schema := reflector.Reflect(&schemaExpression{})
	schema.Version = ""

	b, err := schema.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal expression schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode expression schema: %w", err)
	}

	ensureStrict(m)
	if props, ok := m["properties"].(map[string]any); ok {
		for name, desc := range fieldDescriptions {
			if p, ok := props[name].(map[string]any); ok {
				p["description"] = desc
			}
		}
	}
	return m, nil
}

// ensureStrict walks objects, arrays and nested items.
func ensureStrict(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			// Keep declaration order where the reflector provided it.
			if existing, ok := schema["required"].([]any); ok {
				for _, r := range existing {
					if s, ok := r.(string); ok {
						required = append(required, s)
					}
				}
			}
			for name := range props {
				if !containsString(required, name) {
					required = append(required, name)
				}
			}
			schema["required"] = required
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				ensureStrict(pm)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		ensureStrict(items)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
