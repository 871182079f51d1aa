package main

import (
	"context"
	"fmt"

	"bankdesk/dispatch-service/internal/config"
	"bankdesk/dispatch-service/internal/logger"
	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"
	"bankdesk/dispatch-service/internal/store/postgres"

	"github.com/spf13/cobra"
)

const demoWorkersPerDepartment = 2

var demoDepartments = []string{"loan", "deposit", "grievance", "operation"}

var seedWorkers int

func newSeedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the standard departments and demo workers",
		Long:  `Creates any missing department and adds the requested number of workers to each. Workers are added on every run.`,
		Args:  cobra.NoArgs,
		RunE:  runSeed,
	}
	cmd.Flags().IntVarP(&seedWorkers, "workers", "w", demoWorkersPerDepartment, "Workers to add per department")
	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.Init(cfg.LogLevel, cfg.LogFormat)

	pool, err := connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	workers, err := seedDemo(cmd.Context(), postgres.NewStore(pool, postgres.Options{}), seedWorkers)
	if err != nil {
		return err
	}
	for _, w := range workers {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", w.WorkerID, w.DepartmentID, w.FullName)
	}
	log.Info("seed complete", "workers", len(workers))
	return nil
}

func seedDemo(ctx context.Context, st store.Store, perDepartment int) ([]models.Worker, error) {
	var created []models.Worker
	for _, name := range demoDepartments {
		if _, _, err := st.CreateDepartment(ctx, name); err != nil {
			return nil, fmt.Errorf("create department %s: %w", name, err)
		}
		for i := 1; i <= perDepartment; i++ {
			worker, err := st.CreateWorker(ctx, store.CreateWorkerInput{
				DepartmentName: name,
				FullName:       fmt.Sprintf("%s desk %d", name, i),
			})
			if err != nil {
				return nil, fmt.Errorf("create worker in %s: %w", name, err)
			}
			created = append(created, worker)
		}
	}
	return created, nil
}
