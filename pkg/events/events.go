// Package events implements the synchronous signal bus workflow components
// publish and subscribe to. Unlike a typical pub/sub broker it never buffers
// or fans out on its own goroutine: Publish calls every subscriber of a
// signal directly, in registration order, on the caller's goroutine. This is
// what lets a task-state handler publish workflow.failure and rely on every
// subscriber having run before Publish returns.
package events

import (
	"sync"

	"github.com/cuemby/aria/pkg/log"
)

// Signal names a point in the task/workflow lifecycle that components can
// subscribe to. New signals belong here, not scattered string literals.
type Signal string

const (
	SignalWorkflowStart      Signal = "workflow.start"
	SignalWorkflowSuccess    Signal = "workflow.success"
	SignalWorkflowFailure    Signal = "workflow.failure"
	SignalWorkflowCancelling Signal = "workflow.cancelling"
	SignalWorkflowCancelled  Signal = "workflow.cancelled"
	SignalWorkflowResume     Signal = "workflow.resume"

	SignalTaskSent    Signal = "task.sent"
	SignalTaskStart   Signal = "task.start"
	SignalTaskSuccess Signal = "task.success"
	SignalTaskFailure Signal = "task.failure"
)

// Payload carries whatever a publisher wants a subscriber to see. Handlers
// type-assert the fields they care about; unused fields are left zero.
type Payload struct {
	Signal    Signal
	Task      interface{}
	Execution interface{}
	Err       error
}

// Handler reacts to a signal. It must not call Publish on the bus that
// invoked it with the same signal it is handling - that would recurse.
type Handler func(p Payload)

// Bus is an explicit, constructed value - never a package-level singleton.
// The orchestrator builds one Bus, registers task-state handlers on it, and
// threads it into the engine and every executor.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Signal][]Handler
}

// NewBus returns an empty bus ready for Subscribe calls.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Signal][]Handler)}
}

// Subscribe registers h to run, in order, every time sig is published.
func (b *Bus) Subscribe(sig Signal, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[sig] = append(b.handlers[sig], h)
}

// Publish dispatches synchronously, on the caller's goroutine, to every
// subscriber of p.Signal in registration order. A subscriber panic is
// recovered and logged; it does not stop remaining subscribers from running.
func (b *Bus) Publish(p Payload) {
	b.mu.RLock()
	hs := make([]Handler, len(b.handlers[p.Signal]))
	copy(hs, b.handlers[p.Signal])
	b.mu.RUnlock()

	for _, h := range hs {
		b.invoke(h, p)
	}
}

func (b *Bus) invoke(h Handler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("events").Error().
				Str("signal", string(p.Signal)).
				Interface("recovered", r).
				Msg("subscriber panicked")
		}
	}()
	h(p)
}

// SubscriberCount reports how many handlers are registered for sig, mainly
// for tests asserting that registration wiring happened.
func (b *Bus) SubscriberCount(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[sig])
}
