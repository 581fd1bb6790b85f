package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/postgres"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the PostgreSQL schema migrations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if a.cfg.StorageBackend != config.BackendPostgres {
				return errors.New("migrations only apply to the postgres storage backend")
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postgres.MigrateUp(a.cfg.PostgresDSN)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return postgres.MigrateDown(a.cfg.PostgresDSN)
		},
	})
	return cmd
}
