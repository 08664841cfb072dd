package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusMetrics bool

func init() {
	statusCmd.Flags().BoolVar(&statusMetrics, "metrics", false, "print the metrics snapshot instead of status")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of a running maskd instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/status"
		if statusMetrics {
			path = "/metrics"
		}

		var out map[string]any
		if err := getJSON(managementURL+path, &out); err != nil {
			return fmt.Errorf("status: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
