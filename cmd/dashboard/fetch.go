package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"clubdash/internal/domain"
	"clubdash/internal/ingest"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <channel>",
	Short: "Load one monitored channel and print the resulting buffer as JSON",
	Args:  cobra.ExactArgs(1),
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

		if err := a.service.LoadChannelHistory(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, ingest.ErrUnknownChannel) {
				return fmt.Errorf("%w (see the channels section of the config)", err)
			}
			return err
		}

		var out []domain.Message
		if cfg.Admin.Token != "" {
			out, err = a.service.AdminData(cfg.Admin.Token)
			if err != nil {
				return err
			}
		} else {
			out = a.service.PublicData()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
