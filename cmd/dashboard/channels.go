package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var includePrivate bool

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels the bot is a member of",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.service.Enabled() {
			return errors.New("SLACK_BOT_TOKEN is required")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.service.Channels(cmd.Context(), includePrivate))
	},
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.Flags().BoolVar(&includePrivate, "private", false, "include private channels")
}
