package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/ingest"
	"github.com/chunkstack/chunkstack/internal/output"
	"github.com/chunkstack/chunkstack/internal/watcher"
)

// newWatchCmd creates the watch command.
func newWatchCmd() *cobra.Command {
	var initial bool

	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Watch a directory and keep the store in sync",
		Long: `Watch a directory tree for document changes. Created and modified
documents are re-ingested; deleted documents are removed from the
store. Runs until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], initial)
		},
	}

	cmd.Flags().BoolVar(&initial, "initial", true, "Ingest existing documents before watching")
	return cmd
}

func runWatch(cmd *cobra.Command, dir string, initial bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	pipeline := ingest.New(cfg, st, provider, nil)

	if initial {
		paths, err := collectDocuments([]string{dir})
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			out.Statusf("..", "ingesting %d existing document(s)", len(paths))
			if _, err := pipeline.IngestAll(ctx, paths); err != nil {
				return err
			}
		}
	}

	w, err := watcher.New(watcher.Options{}, nil)
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx, dir); err != nil {
		return err
	}
	out.Statusf("..", "watching %s (ctrl-c to stop)", dir)

	runner := watcher.NewRunner(w, pipeline, st, nil)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	out.Success("stopped")
	return nil
}
