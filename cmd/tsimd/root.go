package main

import (
	"github.com/spf13/cobra"

	"github.com/ksparavec/traceroute-simulator-sub003/internal/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tsimd",
		Short:         "Job scheduler and shared-resource coordinator for network namespace testing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json (defaults built in if omitted)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newCancelCmd())
	root.AddCommand(newProgressCmd())
	root.AddCommand(newQueueCmd())
	return root
}

func loadConfig() (config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
