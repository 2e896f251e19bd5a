/*
Package log provides structured logging for the orchestrator using zerolog.

It wraps zerolog to give every component a JSON-structured logger carrying
consistent context fields - component, service_id, node_id, task_id,
execution_id - rather than ad hoc fmt.Sprintf calls. Init configures the
global Logger once at process startup; everything else derives a child
logger from it via the With* helpers.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("engine").With().Str("execution_id", id).Logger()
	logger.Info().Msg("execution started")

Levels are debug, info, warn, error. JSONOutput selects JSON lines for
production versus a colorized console writer for local development.
*/
package log
