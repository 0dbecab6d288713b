package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sha1n/order-index/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "order-index"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := newRootCommand(version, programName)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func newRootCommand(version, programName string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Order index MCP server",
		Long:    "Serves order writes from a SQLite store and paginated queries from a Bleve projection kept in sync by events and reconciliation",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return app.RunWithDeps(ctx, app.DefaultRunParams(), cmd.Flags(), version)
		},
	}
	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	app.RegisterFlags(rootCmd.Flags())

	rootCmd.AddCommand(
		newMaintenanceCommand("reconcile",
			"Replay failed index operations once and exit",
			"Replays every outstanding reconciliation record against the search index. Sweeps in other processes are excluded by the reconcile lock file.",
			app.RunSweep,
		),
		newMaintenanceCommand("reindex",
			"Re-project every stored order into the search index and exit",
			"Rebuilds the search index from the order store. Run it while the server is stopped, since the index directory is opened exclusively.",
			app.RunReindex,
		),
	)
	return rootCmd
}

type maintenanceFunc func(context.Context, app.RunParams, *pflag.FlagSet, io.Writer) error

func newMaintenanceCommand(use, short, long string, run maintenanceFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return run(ctx, app.DefaultRunParams(), cmd.Flags(), cmd.OutOrStdout())
		},
	}
	app.RegisterStorageFlags(cmd.Flags())
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
