package main

import (
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/paygate/pkg/pg"
	"github.com/dmitrymomot/paygate/svc/storage/postgres"
)

func newMigrateCmd(load func() (appConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := pg.Migrate(cmd.Context(), a.pool, cfg.Postgres, postgres.Migrations, postgres.MigrationsDir, a.log); err != nil {
				return err
			}
			a.log.InfoContext(cmd.Context(), "migrations applied")
			return nil
		},
	}
}
