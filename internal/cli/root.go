// Package cli implements opmonctl, the command line client for the
// operational monitoring daemon.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "opmonctl",
	Short: "Operational monitoring daemon CLI",
	Long: `opmonctl talks to the operational monitoring daemon.

Query operational records and service health data, submit record batches
and mint caller tokens for testing.`,
	Version: "0.1.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("url", "http://localhost:2080", "daemon base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the request")
}
