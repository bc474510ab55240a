package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/store"
)

// newSourcesCmd creates the sources command.
func newSourcesCmd() *cobra.Command {
	var (
		status     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List ingested sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSources(cmd, status, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runSources(cmd *cobra.Command, status string, jsonOutput bool) error {
	ctx := cmd.Context()

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

	sources, err := st.ListSources(ctx, store.SourceFilter{Status: store.Status(status)})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	}

	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sources")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTYPE\tFORMAT\tSTATUS\tCHUNKS\tUPDATED")
	for _, src := range sources {
		count, err := st.Meta().CountChunks(ctx, src.ID)
		if err != nil {
			count = 0
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			src.ID, src.Type, src.Format, src.Status, count,
			src.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
