package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func addCheckConfigCommandTo(parent *cobra.Command, configPath *string) {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and list the configured services.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, svc := range cfg.Services {
				fmt.Fprintf(out, "%-24s %-8s %s\n", svc.ServiceName, svc.PrimaryEnvironment(), svc.RepoURL)
			}
			fmt.Fprintf(out, "config OK: %d services\n", len(cfg.Services))
			return nil
		},
	}
	parent.AddCommand(cmd)
}
