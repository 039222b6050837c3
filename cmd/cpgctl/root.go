// Command cpgctl is the CLI exposition surface (C11, SPEC_FULL.md §4.11)
// over the Populator, Query Executor, and HTTP API.
//
// Grounded on shivasurya-code-pathfinder/sourcecode-parser/cmd's
// cobra.Command root+subcommand layout (root.go's Execute()/init(), each
// subcommand its own file with a package-level *cobra.Command and RunE).
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	idStrategy   string
	workerCount  int
	includeGlobs []string
	ignoreGlobs  []string
)

var rootCmd = &cobra.Command{
	Use:   "cpgctl",
	Short: "cpgctl builds and queries a Code Property Graph for actor-based sources",
	Long: "cpgctl is the command-line surface over the Code Property Graph engine: " +
		"populate a repository, run structured queries against it, or serve it over HTTP.",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "path to a YAML config file overlaying the defaults")
	pf.StringVar(&idStrategy, "id-strategy", "", "node identifier strategy: path, path_hash_line, content_hash")
	pf.IntVar(&workerCount, "workers", 0, "bounded parallelism worker count (0 = host parallelism)")
	pf.StringSliceVar(&includeGlobs, "include", nil, "glob(s) of files to include (default: **/*.ex, **/*.exs)")
	pf.StringSliceVar(&ignoreGlobs, "ignore", nil, "glob(s) of files to exclude")

	rootCmd.AddCommand(populateCmd, queryCmd, serveCmd)
}

// Execute runs the root command; main's sole responsibility is calling this
// and translating a returned error into a nonzero exit code.
func Execute() error {
	return rootCmd.Execute()
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, color.RedString(format, args...))
	os.Exit(1)
}
