package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/cpgengine/internal/cliconfig"
	"github.com/nshkrdotcom/cpgengine/internal/config"
	"github.com/nshkrdotcom/cpgengine/internal/elixirlang"
	"github.com/nshkrdotcom/cpgengine/internal/populator"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
	"github.com/nshkrdotcom/cpgengine/internal/snapshot"
)

var populateSnapshotOut string

var populateCmd = &cobra.Command{
	Use:   "populate <path>",
	Short: "Run the initial bulk analysis pass over a project directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cliconfig.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyFlagOverrides(&cfg)

		repo := repository.NewRepository(cfg)
		pop := populator.New(repo, elixirlang.New())

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("populating"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		)

		res := pop.Populate(context.Background(), args[0], populator.Options{
			IncludeGlobs: cfg.IncludeGlobs,
			IgnoreGlobs:  cfg.IgnoreGlobs,
			WorkerCount:  cfg.WorkerCount,
			FileTimeout:  cfg.AnalysisTimeout,
			IDStrategy:   cfg.IDStrategy,
			OnProgress: func(ev populator.ProgressEvent) {
				bar.ChangeMax(ev.Total)
				_ = bar.Set(ev.Processed)
			},
		})
		_ = bar.Finish()
		fmt.Fprintln(cmd.OutOrStdout())

		printStatus(cmd, res)

		if populateSnapshotOut != "" {
			if serr := snapshot.Save(repo, populateSnapshotOut); serr != nil {
				return fmt.Errorf("save snapshot: %w", serr)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", populateSnapshotOut)
		}

		if res.Status == populator.StatusError {
			return fmt.Errorf("populate failed: %d error(s)", len(res.Errors))
		}
		return nil
	},
}

func init() {
	populateCmd.Flags().StringVar(&populateSnapshotOut, "snapshot-out", "", "write a persisted snapshot to this path after populating")
}

func printStatus(cmd *cobra.Command, res populator.Result) {
	line := fmt.Sprintf("discovered=%d processed=%d functions=%d errors=%d duration=%s",
		res.Discovered, res.Processed, res.FunctionsAnalyzed, len(res.Errors), res.Duration.Round(time.Millisecond))

	switch res.Status {
	case populator.StatusOK:
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("ok: %s", line))
	case populator.StatusPartialOK:
		fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("partial_ok: %s", line))
	default:
		fmt.Fprintln(cmd.OutOrStdout(), color.RedString("error: %s", line))
	}
	for _, e := range res.Errors {
		fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("  %s", e.Error()))
	}
}

// applyFlagOverrides layers persistent CLI flags onto a loaded config:
// a flag that is set overrides the file, which overrides the built-in
// default. No environment variables are read here.
func applyFlagOverrides(cfg *config.Config) {
	if idStrategy != "" {
		cfg.IDStrategy = config.IDStrategy(idStrategy)
	}
	if workerCount != 0 {
		cfg.WorkerCount = workerCount
	}
	if len(includeGlobs) > 0 {
		cfg.IncludeGlobs = includeGlobs
	}
	if len(ignoreGlobs) > 0 {
		cfg.IgnoreGlobs = ignoreGlobs
	}
}
