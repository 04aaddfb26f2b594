package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "runner",
		Short:        "Coverage scan runner",
		Long:         "Runs JaCoCo coverage scans for pushed commits and reports the results to chat.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file (default $COVHOOK_CONFIG or config.yaml)")

	addServeCommandTo(rootCmd, &configPath)
	addScanCommandTo(rootCmd, &configPath)
	addCheckConfigCommandTo(rootCmd, &configPath)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
