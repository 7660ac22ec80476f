// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/observability"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// setupTest isolates a command test: it runs in a fresh directory so no
// config.yaml is found, keeps the logger quiet and restores the injected
// factories afterwards.
func setupTest(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("MOODLENS_LOGGER_LEVEL", "error")

	prevAnalyzer, prevStore := newAnalyzer, openStore
	observability.ResetForTest()
	t.Cleanup(func() {
		newAnalyzer, openStore = prevAnalyzer, prevStore
		observability.ResetForTest()
	})
	return dir
}

// executeCommand runs a fresh root command with args and returns its output.
func executeCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

// stubAnalyzer makes every command use a.
func stubAnalyzer(a schemas.Analyzer) {
	newAnalyzer = func(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.Analyzer, error) {
		return a, nil
	}
}

func writeImage(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "face.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	return path
}

func sampleResult() *schemas.ExpressionResult {
	return &schemas.ExpressionResult{
		PrimaryEmotion:   "joy",
		SecondaryEmotion: "surprise",
		Confidence:       0.82,
		Explanation:      "Raised cheeks and a wide smile.",
		Cues:             []string{"raised cheeks", "crow's feet"},
		EmotionBreakdown: []schemas.EmotionScore{{Emotion: "joy", Score: 0.82}, {Emotion: "surprise", Score: 0.3}},
		Timestamp:        1700000000000,
	}
}

// newTestConfig returns the validated default configuration.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	return cfg
}
