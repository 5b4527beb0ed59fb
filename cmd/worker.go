package cmd

import (
	"github.com/spf13/cobra"
	"worker-asset-processing/config"
	"worker-asset-processing/server"
)

func worker(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "poll the asset API and process jobs",
		Run: func(cmd *cobra.Command, args []string) {
			server.RunWorker(config)
		},
	}
}
