package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/workflow/builtin"
	"github.com/cuemby/aria/pkg/workflow/engine"
	"github.com/cuemby/aria/pkg/workflow/executor"
	"github.com/cuemby/aria/pkg/workflow/handlers"
	"github.com/cuemby/aria/pkg/workflow/registry"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a crashed execution (a cancelled execution stays cancelled)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		executionID, _ := cmd.Flags().GetString("execution-id")
		retryFailed, _ := cmd.Flags().GetBool("retry-failed")
		workers, _ := cmd.Flags().GetInt("thread-workers")
		if executionID == "" {
			return fmt.Errorf("--execution-id is required")
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		bus := events.NewBus()
		handlers.New(store).Register(bus)

		reg := registry.New()
		builtin.Register(reg)
		resource, err := resourcestore.NewLocalStore(dataDir + "/resources")
		if err != nil {
			return fmt.Errorf("failed to open resource store: %w", err)
		}

		thread := executor.NewThreadExecutor(store, bus, reg, resource, workers)
		defer thread.Close()
		executors := map[string]executor.Executor{"": thread}

		eng := engine.New(store, bus, executionID, executors)
		fmt.Printf("Resuming execution %s (retry-failed=%v)...\n", executionID, retryFailed)
		if err := eng.Execute(context.Background(), true, retryFailed); err != nil {
			return fmt.Errorf("execution did not complete cleanly: %w", err)
		}
		fmt.Println("✓ Execution finished")
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("data-dir", "./aria-data", "Data directory for the BoltDB store")
	resumeCmd.Flags().String("execution-id", "", "Execution to resume (required)")
	resumeCmd.Flags().Bool("retry-failed", false, "Reset failed tasks to pending before resuming")
	resumeCmd.Flags().Int("thread-workers", 8, "Number of goroutines in the thread executor's pool")
}
