// Package cmd implements the tiangong-lca-mcp command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tiangong-lca-mcp",
	Short: "TianGong LCA Model Context Protocol server",
	Long: `tiangong-lca-mcp serves the TianGong LCA tool surface over the
Model Context Protocol. Remote clients authenticate with an API key,
a Cognito access token, or a Supabase session token; the server
resolves all three through one hybrid authenticator.`,
	SilenceUsage: true,
}

// SetVersion injects the build version from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
