// Package cmd provides the command-line interface for sitepilot.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sitepilot",
	Short: "Sitepilot automates client website changes and provisioning",
	Long: `Sitepilot runs the client website automation: it turns inbound client
emails into approval-gated change tickets, serves the approve/reject
endpoint the emailed links point at, and provisions the full
infrastructure stack (repository, storage, routing, deploy identities,
CI) for new clients.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diagnoseCmd)
}
