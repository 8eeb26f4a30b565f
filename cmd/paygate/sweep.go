package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newSweepCmd(load func() (appConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every entitled subscription past its due date once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			sweeper, err := a.sweeper()
			if err != nil {
				return err
			}
			report, err := sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
