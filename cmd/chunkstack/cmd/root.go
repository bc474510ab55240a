// Package cmd provides the CLI commands for chunkstack.
package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/config"
	"github.com/chunkstack/chunkstack/internal/embed"
	"github.com/chunkstack/chunkstack/internal/logging"
	"github.com/chunkstack/chunkstack/internal/profiling"
	"github.com/chunkstack/chunkstack/internal/store"
	"github.com/chunkstack/chunkstack/pkg/version"
)

var (
	configPath string
	dataDir    string
	debugMode  bool

	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()

	loggingCleanup func()
)

// NewRootCmd creates the root command for the chunkstack CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunkstack",
		Short: "Document ingestion and hybrid retrieval engine",
		Long: `chunkstack ingests documents (PDF, DOCX, HTML, Markdown, text) into a
hierarchical multi-scale chunk store and answers queries with hybrid
vector plus lexical retrieval.

Run 'chunkstack ingest <path>' to index documents, then
'chunkstack search <query>' to retrieve.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("chunkstack version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.chunkstack/logs/")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return err
		}
	}
	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return err
		}
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return err
		}
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// loadConfig reads the config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	return cfg, nil
}

// openEngine opens the store and the configured embedding provider.
// A provider that fails to initialize degrades to lexical-only
// operation rather than aborting; the caller owns both closes.
func openEngine(ctx context.Context, cfg *config.Config) (*store.Store, embed.Provider, error) {
	provider, err := embed.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		slog.Warn("embedding provider unavailable, continuing lexical-only", "error", err)
		provider = nil
	}

	dims := 0
	providerName := ""
	if provider != nil {
		dims = provider.Dimensions()
		providerName = provider.Name()
	}

	st, err := store.Open(ctx, cfg.Paths.DataDir, store.Options{
		LexicalBackend: cfg.Lexical.Backend,
		Dimensions:     dims,
		Provider:       providerName,
	})
	if err != nil {
		if provider != nil {
			provider.Close()
		}
		return nil, nil, err
	}
	return st, provider, nil
}
