// Package cli implements the credo command-line interface.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sufield/credo/internal/adapters/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "credo",
	Short: "Workload identity and delegation trust core",
	Long: `credo is a SPIFFE-inspired trust core for internal services.

It runs the Workload API (a miniature certificate authority that attests
workloads and issues short-lived X.509 SVIDs) and the delegation token
service (user login plus scoped, audience-bound delegation tokens).`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.AddCommand(workloadAPICmd)
	rootCmd.AddCommand(userServiceCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger with credential redaction.
func newLogger() *slog.Logger {
	return logging.NewSecureLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
