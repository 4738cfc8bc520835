package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/remote"
)

func newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print persisted turns oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.API.HistoryLimit
			}
			client := remote.NewClient(cfg.API.BaseURL, remote.WithHealthTimeout(cfg.API.HealthTimeout))
			records, err := client.FetchRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, record := range records {
				fmt.Fprint(out, formatTurn(record))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, fmt.Sprintf("number of turns (max %d)", remote.MaxHistoryLimit))
	return cmd
}
