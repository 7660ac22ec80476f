package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/observability"
)

// newHistoryCmd creates the `history` command, which lists stored results.
func newHistoryCmd() *cobra.Command {
	var limit int
	var output string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recent stored analysis results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be a positive integer")
			}
			if err := validateOutput(output); err != nil {
				return err
			}
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), cfg, limit, output, cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	historyCmd.Flags().StringVarP(&output, "output", "o", outputText, "output format (text, json)")
	return historyCmd
}

func runHistory(ctx context.Context, cfg *config.Config, limit int, output string, out io.Writer, logger *zap.Logger) error {
	resultStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	if resultStore == nil {
		return fmt.Errorf("no result store configured; set database.driver to sqlite or postgres")
	}
	defer func() {
		if cerr := resultStore.Close(); cerr != nil {
			logger.Warn("Failed to close result store", zap.Error(cerr))
		}
	}()

	records, err := resultStore.RecentResults(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}

	if output == outputJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No analyses recorded yet.")
		return err
	}
	_, err = fmt.Fprintln(out, renderHistory(records))
	return err
}

func renderHistory(records []schemas.ExpressionResult) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Time().Local().Format("2006-01-02 15:04:05"),
			r.PrimaryEmotion,
			r.SecondaryEmotion,
			formatPercent(r.Confidence),
			strings.Join(r.Cues, ", "),
		})
	}
	return renderTable(
		[]string{"Observed", "Primary", "Secondary", "Confidence", "Cues"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}
