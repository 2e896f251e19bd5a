package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/workflow/engine"
	"github.com/cuemby/aria/pkg/workflow/handlers"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Request cancellation of a running execution",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		executionID, _ := cmd.Flags().GetString("execution-id")
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
		eng := engine.New(store, bus, executionID, nil)
		if err := eng.CancelExecution(); err != nil {
			return fmt.Errorf("failed to cancel execution: %w", err)
		}

		fmt.Printf("✓ Cancellation requested for execution %s\n", executionID)
		fmt.Println("  Already-dispatched tasks will finish; no new tasks will be sent.")
		return nil
	},
}

func init() {
	cancelCmd.Flags().String("data-dir", "./aria-data", "Data directory for the BoltDB store")
	cancelCmd.Flags().String("execution-id", "", "Execution to cancel (required)")
}
