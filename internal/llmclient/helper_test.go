package llmclient

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/moodlens/internal/config"
)

// validModelReply is a reply that satisfies the expression schema.
const validModelReply = `{"primaryEmotion":"sadness","secondaryEmotion":"fear","confidence":0.66,` +
	`"explanation":"Inner brow raise with lip corner depression.","cues":["inner brow raise"],` +
	`"emotionBreakdown":[{"emotion":"sadness","score":0.6},{"emotion":"fear","score":0.2}]}`

// jpegStub is the JPEG SOI marker plus padding; the clients never decode it.
var jpegStub = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

var fixedNow = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

// setupTestLogger creates a zap logger backed by an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.4,
	}
}
