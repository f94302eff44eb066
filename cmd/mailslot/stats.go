package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print relay counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStats(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	be, err := openBackend(cfg.Storage)
	if err != nil {
		return err
	}
	defer be.close()

	s, err := be.store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total messages: %d\n", s.TotalMessages)
	fmt.Fprintf(out, "Total users:    %d\n", s.TotalUsers)
	return nil
}
