package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/remote"
)

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := remote.NewClient(cfg.API.BaseURL, remote.WithHealthTimeout(cfg.API.HealthTimeout))
			ok, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is unhealthy", client.BaseURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", client.BaseURL())
			return nil
		},
	}
}
