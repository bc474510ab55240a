package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/ingest"
	"github.com/chunkstack/chunkstack/internal/output"
	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/internal/watcher"
)

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Ingest documents into the chunk store",
		Long: `Ingest one or more documents, or directories of documents, into the
chunk store. Directories are walked recursively; only supported
document formats (PDF, DOCX, HTML, Markdown, text) are picked up.

Re-ingesting an unchanged file is a no-op: chunk identities are
content-derived, so only changed chunks are re-embedded and replaced.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, quiet)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final summary")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string, quiet bool) error {
	ctx := cmd.Context()
	out := output.NewAuto(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	paths, err := collectDocuments(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		out.Warning("no supported documents found")
		return nil
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

	if !quiet {
		out.Statusf("..", "ingesting %d document(s)", len(paths))
	}
	results, err := pipeline.IngestAll(ctx, paths)
	if err != nil {
		return err
	}

	var completed, failed int
	for _, res := range results {
		switch res.Status {
		case store.StatusCompleted:
			completed++
			if !quiet {
				out.Statusf("  ", "%-40s %d chunks (%d new, %d kept)",
					res.SourceID, res.Chunks, res.Counts.Inserted, res.Counts.Kept)
				for _, w := range res.Warnings {
					out.Warning(w)
				}
			}
		default:
			failed++
			out.Errorf("%s: %s", res.SourceID, strings.Join(res.Errors, "; "))
		}
	}

	out.Successf("%d completed, %d failed", completed, failed)
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed to ingest", failed)
	}
	return nil
}

// collectDocuments expands files and directories into a list of
// supported document paths.
func collectDocuments(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if watcher.Supported(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}
