package main

import (
	"os"

	"github.com/spf13/cobra"

	"clubdash/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "dashboard",
	Short:         "Club dashboard backend: Slack ingestion, upstream proxies and HTTP API",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the YAML config file (optional)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
