// Package cmd implements the ingest-admin maintenance CLI. It connects
// straight to the datastores, so it works even when the API is down.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ingest-admin",
	Short: "Security report ingestion administration CLI",
	Long: `ingest-admin manages the vulnerability ingestion pipeline.

It can trigger pipeline report ingestion, run continuous vulnerability
scans outside their schedule, and inspect project vulnerability quotas.

Connection settings come from the same environment variables the server
reads (DB_*, SEC_DB_*, REDIS_*).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Println("ingest-admin " + version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(continuousCmd)
	rootCmd.AddCommand(quotaCmd)
}
