package metrics

import (
	"time"

	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
)

// Collector periodically samples the model store and updates the gauge
// metrics that can't be maintained incrementally at the call site (counts by
// status, counts by service).
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectServiceMetrics()
}

func (c *Collector) collectServiceMetrics() {
	services, err := c.store.ListServices()
	if err != nil {
		return
	}
	ServicesTotal.Set(float64(len(services)))

	executionCounts := make(map[types.ExecutionStatus]int)
	taskCounts := make(map[types.TaskStatus]int)

	for _, svc := range services {
		executions, err := c.store.ListExecutionsByService(svc.ID)
		if err != nil {
			continue
		}
		for _, e := range executions {
			executionCounts[e.Status]++

			tasks, err := c.store.ListTasksByExecution(e.ID)
			if err != nil {
				continue
			}
			for _, t := range tasks {
				taskCounts[t.Status]++
			}
		}
	}

	for status, count := range executionCounts {
		ExecutionsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
	for status, count := range taskCounts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
