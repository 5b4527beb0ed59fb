package cmd

import (
	"github.com/spf13/cobra"
	"worker-asset-processing/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worker-asset-processing",
		Short: "asset processing job worker",
	}
	rootCmd.AddCommand(worker(config))
	rootCmd.AddCommand(check(config))
	return rootCmd
}
