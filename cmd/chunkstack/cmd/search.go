package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/output"
	"github.com/chunkstack/chunkstack/internal/retrieve"
)

// searchResult is the JSON shape of one retrieved item.
type searchResult struct {
	ChunkID     string   `json:"chunk_id"`
	Score       float64  `json:"score"`
	Strategy    string   `json:"strategy"`
	SourceID    string   `json:"source_id"`
	Heading     string   `json:"heading,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`
	Page        int      `json:"page,omitempty"`
	Content     string   `json:"content"`
}

// searchOpts holds the search command's flag values.
type searchOpts struct {
	k            int
	jsonOutput   bool
	expand       bool
	strategies   []string
	maxPerSource int
	maxPerPage   int
}

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var opts searchOpts

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the chunk store",
		Long: `Run a hybrid retrieval query. The query is classified by intent
(procedure, definition, list, troubleshooting, general) and matched
against the chunk store with vector, lexical, and multi-scale
strategies; results carry citations back to the source document.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "top", "k", 10, "Maximum results to return")
	cmd.Flags().BoolVar(&opts.expand, "expand", false, "Include hierarchical context around each hit")
	cmd.Flags().StringSliceVar(&opts.strategies, "strategy", nil,
		"Restrict to strategies (vectorOnly, lexical, multiScale, contextual); default all")
	cmd.Flags().IntVar(&opts.maxPerSource, "max-per-source", 0, "Override the per-source diversity cap")
	cmd.Flags().IntVar(&opts.maxPerPage, "max-per-page", 0, "Override the per-page diversity cap")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

// parseStrategies validates --strategy values against the known set.
func parseStrategies(names []string) ([]retrieve.Strategy, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[retrieve.Strategy]bool, len(retrieve.AllStrategies))
	for _, st := range retrieve.AllStrategies {
		known[st] = true
	}
	out := make([]retrieve.Strategy, 0, len(names))
	for _, name := range names {
		st := retrieve.Strategy(name)
		if !known[st] {
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
		out = append(out, st)
	}
	return out, nil
}

func runSearch(cmd *cobra.Command, query string, opts searchOpts) error {
	ctx := cmd.Context()
	out := output.NewAuto(cmd.OutOrStdout())

	strategies, err := parseStrategies(opts.strategies)
	if err != nil {
		return err
	}

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

	retriever := retrieve.New(st, provider, cfg.Retrieval, nil)
	res, err := retriever.Retrieve(ctx, query, retrieve.Options{
		K:                     opts.k,
		Strategies:            strategies,
		HierarchicalExpansion: opts.expand,
		SemanticExpansion:     opts.expand,
		MaxChunksPerSource:    opts.maxPerSource,
		MaxChunksPerPage:      opts.maxPerPage,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		results := make([]searchResult, 0, len(res.Items))
		for _, it := range res.Items {
			results = append(results, searchResult{
				ChunkID:     it.Chunk.ID,
				Score:       it.Score,
				Strategy:    string(it.Strategy),
				SourceID:    it.Citation.SourceID,
				Heading:     it.Citation.Heading,
				SectionPath: it.Citation.SectionPath,
				Page:        it.Citation.PageNumber,
				Content:     it.Chunk.Content,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"query":      query,
			"query_type": string(res.QueryType),
			"degraded":   res.Degraded,
			"results":    results,
		})
	}

	if res.Degraded {
		out.Warning("provider unavailable, results are lexical-only")
	}
	if len(res.Items) == 0 {
		out.Status("", "no results")
		return nil
	}

	for i, it := range res.Items {
		cite := it.Citation.SourceID
		if it.Citation.Heading != "" {
			cite += " > " + it.Citation.Heading
		}
		if it.Citation.PageNumber > 0 {
			cite += fmt.Sprintf(" (p.%d)", it.Citation.PageNumber)
		}
		out.Statusf(fmt.Sprintf("%2d.", i+1), "[%.3f] %s", it.Score, cite)
		out.Status("", snippet(it.Chunk.Content, 200))
		out.Newline()
	}
	return nil
}

// snippet trims content to n runes on a word boundary.
func snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	cut := string(runes[:n])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}
