package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/output"
	"github.com/chunkstack/chunkstack/internal/quality"
)

// newValidateCmd creates the validate command.
func newValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate <source-id>",
		Short: "Re-run quality validation for an ingested source",
		Long: `Rebuild the validation report for a source from its stored chunks:
chunk metric sanity, content quality, hierarchy integrity, duplicate
fraction, and embedding coverage, graded on a 0-100 scale.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")
	return cmd
}

func runValidate(cmd *cobra.Command, sourceID string, jsonOutput bool) error {
	ctx := cmd.Context()
	out := output.NewAuto(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, provider, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close()
		if provider != nil {
			provider.Close()
		}
	}()

	src, err := st.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("source %q not found", sourceID)
	}

	chunks, err := st.Meta().ListChunksBySource(ctx, sourceID)
	if err != nil {
		return err
	}

	report := quality.BuildReport(sourceID, chunks, st.Dimensions())

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out.Statusf("", "source:  %s (%s, %s)", src.ID, src.Type, src.Format)
	out.Statusf("", "score:   %.1f / 100 (%s)", report.Score, report.Grade)
	out.Statusf("", "chunks:  %d (%d duplicates)", report.ChunkCount, report.DuplicateCount)
	for _, issue := range report.Issues {
		out.Error(issue)
	}
	for _, warning := range report.Warnings {
		out.Warning(warning)
	}
	for axis, rec := range report.Recommendations {
		out.Statusf("  ", "%s: %s", axis, rec)
	}
	return nil
}
