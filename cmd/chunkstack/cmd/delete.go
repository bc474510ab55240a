package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/output"
)

// newDeleteCmd creates the delete command.
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <source-id>...",
		Short: "Delete sources and all their chunks",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDelete,
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
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

	var failed int
	for _, sourceID := range args {
		src, err := st.GetSource(ctx, sourceID)
		if err != nil {
			return err
		}
		if src == nil {
			out.Warningf("%s: not found", sourceID)
			continue
		}
		if err := st.DeleteSource(ctx, sourceID); err != nil {
			out.Errorf("%s: %v", sourceID, err)
			failed++
			continue
		}
		out.Successf("deleted %s", sourceID)
	}

	if failed > 0 {
		return fmt.Errorf("%d source(s) failed to delete", failed)
	}
	return nil
}
