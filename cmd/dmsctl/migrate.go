package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dms/internal/database"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции схемы БД (embedded SQL)",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Применить все новые миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			return database.Migrate(a.cfg, a.logger)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Откатить миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps должен быть положительным, получено %d", steps)
			}
			if err := a.load(); err != nil {
				return err
			}
			return database.MigrateDown(a.cfg, steps, a.logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "число откатываемых миграций")

	version := &cobra.Command{
		Use:   "version",
		Short: "Текущая версия схемы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(); err != nil {
				return err
			}
			v, dirty, err := database.MigrationVersion(a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
			return nil
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}
