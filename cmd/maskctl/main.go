// Command maskctl is a command-line client for the masking service.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	managementURL string
	apiToken      string
)

var rootCmd = &cobra.Command{
	Use:   "maskctl",
	Short: "Client for the reversible entity masking service",
	Long:  `maskctl masks documents, restores them by document id, and inspects a running maskd instance.`,
}

func main() {
	rootCmd.AddCommand(maskCmd)
	rootCmd.AddCommand(unmaskCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "maskd API address")
	rootCmd.PersistentFlags().StringVar(&managementURL, "management", "http://localhost:8091", "maskd management address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("MASKD_TOKEN"), "bearer token for the API")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
