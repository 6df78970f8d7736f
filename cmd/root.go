package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (invalid configuration, failed command).
	ExitCodeError = 1
)

// configPath is the configuration file shared by all subcommands.
var configPath string

// rootCmd represents the base command for the ctrlloop application.
var rootCmd = &cobra.Command{
	Use:   "ctrlloop",
	Short: "Run a leader-elected control loop over watched resources",
	Long: `ctrlloop mirrors a collection of resources into a local cache, queues
changed keys and reconciles them with a pool of workers. Only the replica
holding the leader election lease runs its controllers.

Resources are read from a Kubernetes API server or from a directory of
YAML manifests.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "ctrlloop version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the exit code for an error returned by a command.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default is $HOME/.config/ctrlloop/config.yaml)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newLeaseCmd())
}
