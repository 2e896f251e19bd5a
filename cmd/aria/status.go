package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/aria/pkg/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print an execution's status and its tasks' statuses",
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

		exec, err := store.GetExecution(executionID)
		if err != nil {
			return fmt.Errorf("failed to get execution: %w", err)
		}
		fmt.Printf("Execution: %s\n", exec.ID)
		fmt.Printf("  Service:  %s\n", exec.ServiceID)
		fmt.Printf("  Workflow: %s\n", exec.WorkflowName)
		fmt.Printf("  Status:   %s\n", exec.Status)
		if exec.Error != "" {
			fmt.Printf("  Error:    %s\n", exec.Error)
		}
		fmt.Println()

		tasks, err := store.ListTasksByExecution(executionID)
		if err != nil {
			return fmt.Errorf("failed to list tasks: %w", err)
		}
		fmt.Printf("%-38s %-20s %-12s %-8s\n", "TASK ID", "NAME", "STATUS", "ATTEMPT")
		for _, t := range tasks {
			fmt.Printf("%-38s %-20s %-12s %-8d\n", t.ID, t.Name, t.Status, t.Attempt)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("data-dir", "./aria-data", "Data directory for the BoltDB store")
	statusCmd.Flags().String("execution-id", "", "Execution to inspect (required)")
}
