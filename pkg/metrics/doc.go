/*
Package metrics provides Prometheus metrics collection and exposition for the
workflow execution core.

It registers gauges and histograms for execution and task counts by status,
engine cycle latency, retry and failure counters, and subprocess-executor
spawn counts, and exposes them through Handler for mounting at /metrics.
Collector periodically samples the model store for the gauges that can't be
maintained incrementally at the call site.
*/
package metrics
