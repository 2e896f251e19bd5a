package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/workflow/builtin"
	"github.com/cuemby/aria/pkg/workflow/prepare"
	"github.com/cuemby/aria/pkg/workflow/registry"
)

// executionRequest is the document `aria apply -f` parses: the minimal
// submission a caller needs to start a workflow against an existing
// service.
type executionRequest struct {
	ServiceID    string                 `yaml:"service_id"`
	WorkflowName string                 `yaml:"workflow_name"`
	Inputs       map[string]interface{} `yaml:"inputs"`
	Executor     string                 `yaml:"executor"`
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit a workflow execution request against a service",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("-f/--file is required")
		}

		body, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		var req executionRequest
		if err := yaml.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("failed to parse %s: %w", file, err)
		}
		if req.ServiceID == "" || req.WorkflowName == "" {
			return fmt.Errorf("service_id and workflow_name are required")
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		reg := registry.New()
		builtin.Register(reg)

		p := prepare.New(store, reg)
		execution, err := p.Prepare(req.ServiceID, req.WorkflowName, req.Inputs, req.Executor, "")
		if err != nil {
			return fmt.Errorf("failed to prepare execution: %w", err)
		}

		fmt.Printf("✓ Execution submitted: %s\n", execution.ID)
		fmt.Printf("  Service: %s\n", execution.ServiceID)
		fmt.Printf("  Workflow: %s\n", execution.WorkflowName)
		fmt.Printf("  Status: %s\n", execution.Status)
		return nil
	},
}

func init() {
	applyCmd.Flags().String("data-dir", "./aria-data", "Data directory for the BoltDB store")
	applyCmd.Flags().StringP("file", "f", "", "Execution request YAML file")
}
