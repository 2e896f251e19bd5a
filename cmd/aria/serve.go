package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/metrics"
	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/builtin"
	"github.com/cuemby/aria/pkg/workflow/engine"
	"github.com/cuemby/aria/pkg/workflow/executor"
	"github.com/cuemby/aria/pkg/workflow/handlers"
	"github.com/cuemby/aria/pkg/workflow/registry"
)

const supervisorPollInterval = time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator: open the store, drive pending executions, serve metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		workers, _ := cmd.Flags().GetInt("thread-workers")
		useSubprocess, _ := cmd.Flags().GetBool("subprocess-executor")

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		bus := events.NewBus()
		handlers.New(store).Register(bus)

		reg := registry.New()
		builtin.Register(reg)

		resource, err := resourcestore.NewLocalStore(filepath.Join(dataDir, "resources"))
		if err != nil {
			return fmt.Errorf("failed to open resource store: %w", err)
		}

		executors := map[string]executor.Executor{
			"": executor.NewThreadExecutor(store, bus, reg, resource, workers),
		}
		metrics.RegisterComponent("store", true, "")
		metrics.RegisterComponent("executor", true, "thread")
		if useSubprocess {
			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to resolve own executable: %w", err)
			}
			sub, err := executor.NewSubprocessExecutor(store, bus, resource, self, filepath.Join(dataDir, "tasks"), "")
			if err != nil {
				return fmt.Errorf("failed to start subprocess executor: %w", err)
			}
			executors["process"] = sub
			metrics.RegisterComponent("executor", true, "thread,process")
		}

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithComponent("serve").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var wg sync.WaitGroup
		running := make(map[string]bool)
		var runningMu sync.Mutex

		logger := log.WithComponent("serve")
		fmt.Println("Aria orchestrator running. Press Ctrl+C to stop.")

		go func() {
			ticker := time.NewTicker(supervisorPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					executions, err := store.ListServices()
					if err != nil {
						logger.Error().Err(err).Msg("failed to list services")
						continue
					}
					for _, svc := range executions {
						pending, err := store.ListExecutionsByService(svc.ID)
						if err != nil {
							logger.Error().Err(err).Msg("failed to list executions")
							continue
						}
						for _, exec := range pending {
							if exec.Status != types.ExecutionPending {
								continue
							}
							runningMu.Lock()
							if running[exec.ID] {
								runningMu.Unlock()
								continue
							}
							running[exec.ID] = true
							runningMu.Unlock()

							wg.Add(1)
							go func(executionID string) {
								defer wg.Done()
								eng := engine.New(store, bus, executionID, executors)
								if err := eng.Execute(ctx, false, false); err != nil {
									logger.Error().Err(err).Str("execution_id", executionID).Msg("execution failed")
								}
								runningMu.Lock()
								delete(running, executionID)
								runningMu.Unlock()
							}(exec.ID)
						}
					}
				}
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down...")
		cancel()
		wg.Wait()
		for _, e := range executors {
			e.Close()
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("data-dir", "./aria-data", "Data directory for the BoltDB store and resource blobs")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
	serveCmd.Flags().Int("thread-workers", 8, "Number of goroutines in the thread executor's pool")
	serveCmd.Flags().Bool("subprocess-executor", false, "Also register the subprocess executor under executor name \"process\"")
}
