package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nshkrdotcom/cpgengine/internal/httpapi"
)

var (
	servePort       string
	serveSnapshotIn string
	servePath       string
)

// serveCmd starts the HTTP query surface. Grounded on
// overkam-code-property-graph/server/main.go's flag parsing +
// signal.Notify/srv.Shutdown(ctx) graceful-shutdown idiom, generalized from
// a SQLite-file-backed App to a Repository built fresh or loaded from a
// snapshot.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := buildRepository(context.Background(), serveSnapshotIn, servePath)
		if err != nil {
			return err
		}

		app := httpapi.NewApp(repo)
		srv := &http.Server{
			Addr:         ":" + resolvePort(),
			Handler:      app.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintln(cmd.OutOrStdout(), color.CyanString("listening on http://localhost:%s", resolvePort()))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server: %w", err)
		case <-quit:
		}

		fmt.Fprintln(cmd.OutOrStdout(), "shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "HTTP port; can also be set via the PORT env var")
	serveCmd.Flags().StringVar(&serveSnapshotIn, "snapshot", "", "load a repository from a snapshot file before serving")
	serveCmd.Flags().StringVar(&servePath, "path", "", "populate a repository fresh from a project directory before serving")
}

func resolvePort() string {
	if p := os.Getenv("PORT"); p != "" && servePort == "8080" {
		return p
	}
	return servePort
}
