/*
Package events implements the workflow execution core's signal bus.

Unlike a buffered broker, a Bus dispatches Publish synchronously on the
caller's goroutine to every subscriber of a signal, in registration order.
Task-state handlers and the workflow engine rely on this: publishing
workflow.failure must mean every subscriber has already observed it by the
time Publish returns, not "eventually, once a worker goroutine gets to it".

A Bus is constructed explicitly once per orchestrator process and threaded
into the engine and the executors - it is never a package level
singleton, so tests can build an isolated Bus per case.

	bus := events.NewBus()
	handlers.New(store).Register(bus)
	bus.Publish(events.Payload{Signal: events.SignalTaskFailure, Task: t})
*/
package events
