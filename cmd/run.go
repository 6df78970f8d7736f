package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/giantswarm/ctrlloop/internal/app"
)

// runDebug forces debug logging regardless of the configured level.
var runDebug bool

// runSilent discards all log output.
var runSilent bool

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the controller manager",
		Long: `Starts the informer, the controller and, when enabled, leader election.

The informer keeps the local cache in sync on every replica. Controllers
only run while this replica holds the lease; losing the lease stops them
and the replica keeps campaigning until it leads again.

The process stops on SIGINT or SIGTERM and releases the lease when
leaderElection.releaseOnCancel is set.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	cmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&runSilent, "silent", false, "Disable all log output")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(runDebug, runSilent, configPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
