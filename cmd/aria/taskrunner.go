package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/workflow/builtin"
	"github.com/cuemby/aria/pkg/workflow/executor"
	"github.com/cuemby/aria/pkg/workflow/registry"
)

// taskRunnerCmd is never invoked by a user directly - the subprocess
// executor spawns it as a child process, pointing it at the args file it
// wrote for one task.
var taskRunnerCmd = &cobra.Command{
	Use:    executor.TaskRunnerSubcommand + " <args-file>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := registry.New()
		builtin.Register(reg)

		dataDir := os.Getenv("ARIA_DATA_DIR")
		if dataDir == "" {
			dataDir = "./aria-data"
		}
		resource, err := resourcestore.NewLocalStore(dataDir + "/resources")
		if err != nil {
			return fmt.Errorf("failed to open resource store: %w", err)
		}

		return executor.RunTaskRunner(args[0], reg, resource)
	},
}
