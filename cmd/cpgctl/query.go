package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/cpgengine/internal/cliconfig"
	"github.com/nshkrdotcom/cpgengine/internal/elixirlang"
	qry "github.com/nshkrdotcom/cpgengine/internal/query"
	"github.com/nshkrdotcom/cpgengine/internal/populator"
	"github.com/nshkrdotcom/cpgengine/internal/repository"
	"github.com/nshkrdotcom/cpgengine/internal/snapshot"
)

var (
	querySnapshotIn string
	queryPath       string
)

var queryCmd = &cobra.Command{
	Use:   "query <json-query-spec>",
	Short: "Run a structured query spec against a populated or snapshotted repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var spec qry.Spec
		if err := json.Unmarshal([]byte(args[0]), &spec); err != nil {
			return fmt.Errorf("invalid query spec: %w", err)
		}

		repo, err := buildRepository(context.Background(), querySnapshotIn, queryPath)
		if err != nil {
			return err
		}

		res, qerr := qry.Execute(repo, spec)
		if qerr != nil {
			return fmt.Errorf("query failed: %w", qerr)
		}

		out, merr := json.MarshalIndent(res, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&querySnapshotIn, "snapshot", "", "load a repository from a snapshot file produced by populate --snapshot-out")
	queryCmd.Flags().StringVar(&queryPath, "path", "", "populate a repository fresh from a project directory before querying")
}

// buildRepository loads a snapshot or runs a fresh populate, depending on
// which of snapshotPath/projectPath was given.
func buildRepository(ctx context.Context, snapshotPath, projectPath string) (*repository.Repository, error) {
	cfg, err := cliconfig.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(&cfg)
	repo := repository.NewRepository(cfg)

	switch {
	case snapshotPath != "":
		if serr := snapshot.Load(repo, snapshotPath); serr != nil {
			return nil, fmt.Errorf("load snapshot: %w", serr)
		}
	case projectPath != "":
		pop := populator.New(repo, elixirlang.New())
		res := pop.Populate(ctx, projectPath, populator.Options{
			IncludeGlobs: cfg.IncludeGlobs,
			IgnoreGlobs:  cfg.IgnoreGlobs,
			WorkerCount:  cfg.WorkerCount,
			FileTimeout:  cfg.AnalysisTimeout,
			IDStrategy:   cfg.IDStrategy,
		})
		if res.Status == populator.StatusError {
			return nil, fmt.Errorf("populate failed: %d error(s)", len(res.Errors))
		}
	default:
		return nil, fmt.Errorf("one of --snapshot or --path is required")
	}
	return repo, nil
}

