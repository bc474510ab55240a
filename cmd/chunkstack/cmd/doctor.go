package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunkstack/chunkstack/internal/embed"
	"github.com/chunkstack/chunkstack/internal/output"
	"github.com/chunkstack/chunkstack/internal/preflight"
)

// newDoctorCmd creates the doctor command.
func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for problems",
		Long: `Run environment checks: data directory access, free disk space, and
embedding provider reachability. An unreachable provider is a warning,
not a failure; the engine runs lexical-only without one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output check results as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	ctx := cmd.Context()
	out := output.NewAuto(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	provider, err := embed.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		provider = nil
	}
	if provider != nil {
		defer provider.Close()
	}

	checker := preflight.New(cfg.Paths.DataDir, provider)
	results := checker.RunAll(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			switch r.Status {
			case preflight.StatusPass:
				out.Successf("%-20s %s", r.Name, r.Message)
			case preflight.StatusWarn:
				out.Warningf("%-20s %s", r.Name, r.Message)
			default:
				out.Errorf("%-20s %s", r.Name, r.Message)
			}
		}
	}

	if preflight.HasCriticalFailures(results) {
		return fmt.Errorf("environment check failed")
	}
	return nil
}
