package main

import (
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "dispatch-service"

func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Bank customer-service dispatcher",
		Long:         `Books appointment slots across department workers and runs the live ticket queue.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
		newTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
