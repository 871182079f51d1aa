package main

import (
	"fmt"

	"bankdesk/dispatch-service/internal/config"
	"bankdesk/dispatch-service/internal/logger"
	"bankdesk/dispatch-service/internal/store/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
	}
	for _, sub := range []struct{ use, short string }{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Show migration status"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd, command)
			},
		})
	}
	return cmd
}

func runMigrate(cmd *cobra.Command, command string) error {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	pool, err := connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	log.Info("running migrations", "command", command)
	version, err := postgres.Migrate(cmd.Context(), pool, command)
	if err != nil {
		log.Error("migration failed", "error", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "current version: %d\n", version)
	return nil
}
