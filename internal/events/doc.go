// Package events provides task lifecycle events and the emitter that
// dispatches them.
//
// The scheduler emits an event each time a task result is recorded.
// Handlers register with an Emitter and receive events without the
// scheduler knowing who is listening, which keeps observers (logging,
// metrics, downstream triggers) decoupled from the executor.
package events
