package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/camera"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/observability"
	"github.com/xkilldash9x/moodlens/internal/pipeline"
)

const (
	outputText = "text"
	outputJSON = "json"
)

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	default:
		return fmt.Errorf("unsupported output format '%s' (text, json)", format)
	}
}

// newAnalyzeCmd creates the one-shot `analyze` command.
func newAnalyzeCmd(v *viper.Viper) *cobra.Command {
	var output string

	analyzeCmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze the expression in a single image file and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, args[0], output, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	analyzeCmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json)")
	analyzeCmd.Flags().String("provider", string(config.ProviderGemini), "vision model provider (gemini, openai)")
	analyzeCmd.Flags().String("model", "", "vision model name (defaults to the configured model)")
	_ = v.BindPFlag("llm.provider", analyzeCmd.Flags().Lookup("provider"))
	_ = v.BindPFlag("llm.model", analyzeCmd.Flags().Lookup("model"))

	return analyzeCmd
}

// runAnalyze drives the same controller as `serve` through exactly one
// attempt, with the file as the frame source.
func runAnalyze(ctx context.Context, cfg *config.Config, path, output string, out io.Writer, logger *zap.Logger) error {
	analyzer, err := newAnalyzer(ctx, cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize analysis client: %w", err)
	}

	resultStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}

	var opts []pipeline.Option
	if resultStore != nil {
		opts = append(opts, pipeline.WithRecorder(resultStore))
	}
	ctrl := pipeline.NewController(analyzer, cfg.Pipeline, logger, opts...)
	defer func() {
		ctrl.Close()
		if resultStore != nil {
			if cerr := resultStore.Close(); cerr != nil {
				logger.Warn("Failed to close result store", zap.Error(cerr))
			}
		}
	}()

	if !ctrl.CaptureFrom(ctx, camera.NewFileSource(path)) {
		return fmt.Errorf("analysis could not be started")
	}

	// Interrupts abandon the attempt; Close discards its result.
	stop := context.AfterFunc(ctx, ctrl.Close)
	defer stop()
	ctrl.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	state := ctrl.Snapshot()
	if state.Status != schemas.StatusSuccess || state.CurrentResult == nil {
		return fmt.Errorf("analysis failed (%s): %s", state.LastErrorKind, state.LastError)
	}
	return printResult(out, *state.CurrentResult, output)
}

func printResult(out io.Writer, r schemas.ExpressionResult, format string) error {
	if format == outputJSON {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Primary emotion:   %s\n", r.PrimaryEmotion)
	fmt.Fprintf(&b, "Secondary emotion: %s\n", r.SecondaryEmotion)
	fmt.Fprintf(&b, "Confidence:        %s\n", formatPercent(r.Confidence))
	fmt.Fprintf(&b, "Observed at:       %s\n", r.Time().Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "\n%s\n", r.Explanation)
	if len(r.Cues) > 0 {
		b.WriteString("\nCues:\n")
		for _, cue := range r.Cues {
			fmt.Fprintf(&b, "  - %s\n", cue)
		}
	}
	if len(r.EmotionBreakdown) > 0 {
		rows := make([][]string, 0, len(r.EmotionBreakdown))
		for _, s := range r.EmotionBreakdown {
			rows = append(rows, []string{s.Emotion, formatPercent(s.Score)})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Emotion", "Score"}, rows, []columnAlignment{alignLeft, alignRight}))
		b.WriteString("\n")
	}
	_, err := io.WriteString(out, b.String())
	return err
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}
