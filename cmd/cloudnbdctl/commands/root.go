// Package commands implements the CLI commands for cloudnbdctl, the
// read-only companion to cloudnbd that queries a running server's admin
// HTTP endpoint.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	adminAddr string
)

var rootCmd = &cobra.Command{
	Use:   "cloudnbdctl",
	Short: "cloudnbdctl - inspect a running cloudnbd server",
	Long: `cloudnbdctl is a read-only companion to cloudnbd. It talks to a
running server's admin HTTP endpoint to report export status and version
information; it never touches the server's configuration or storage
directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:19192", "Admin HTTP server address to query")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
