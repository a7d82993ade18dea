package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/repository/postgres"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the chat database schema",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}
	cmd.AddCommand(newUpCmd(), newDownCmd())
	return cmd
}

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrating %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
			return postgres.RunMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL)
		},
	}
}

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigrations(cfg.Database.DSN(), cfg.Database.MigrationsURL, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
