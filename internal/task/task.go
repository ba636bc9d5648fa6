package task

import (
	"context"
	"time"
)

// Priority orders pending tasks; lower values are served first. The
// zero value is PriorityNormal, so leaving the priority unset never
// outranks deliberately prioritized work.
type Priority int

// Possible task priorities.
const (
	PriorityCritical Priority = -2
	PriorityHigh     Priority = -1
	PriorityNormal   Priority = 0
	PriorityLow      Priority = 1
)

// String returns a human-readable priority name for logging.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Status represents the current state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusRetrying is a transient state a caller may place a task
	// into before resubmitting it; the scheduler itself never sets it.
	StatusRetrying Status = "retrying"
)

// Terminal reports whether the status is a final one.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Invocable is one opaque unit of submitted work. The scheduler never
// inspects the body; arguments are captured in the closure or the
// implementing value.
type Invocable interface {
	// Invoke runs the work and returns its opaque success value.
	// The context is cancelled when the executor is stopped.
	Invoke(ctx context.Context) (any, error)
}

// Func adapts a plain function to the Invocable interface.
type Func func(ctx context.Context) (any, error)

// Invoke implements Invocable.
func (f Func) Invoke(ctx context.Context) (any, error) {
	return f(ctx)
}

// BlockingFunc adapts a function that performs blocking or CPU-heavy
// work. Work submitted this way is dispatched to the executor's
// blocking pool instead of running inline on a worker loop.
type BlockingFunc func(ctx context.Context) (any, error)

// Invoke implements Invocable.
func (f BlockingFunc) Invoke(ctx context.Context) (any, error) {
	return f(ctx)
}

// Blocking marks the work for the blocking pool.
func (f BlockingFunc) Blocking() bool { return true }

// blocker is the optional interface work implements to request
// execution on the blocking pool.
type blocker interface {
	Blocking() bool
}

func isBlocking(work Invocable) bool {
	b, ok := work.(blocker)
	return ok && b.Blocking()
}

// Task describes one queued unit of work. Once enqueued the record is
// owned by the priority queue; callers keep only the id.
type Task struct {
	// ID is the globally unique task identifier.
	ID string

	// Work is the opaque invocable to execute.
	Work Invocable

	// Priority determines dequeue order.
	Priority Priority

	// Metadata is free-form, informational only.
	Metadata map[string]any

	// CreatedAt is the submission timestamp.
	CreatedAt time.Time

	// Retries counts prior attempts; the scheduler copies it into the
	// result but never acts on it.
	Retries int

	// seq is the queue-assigned submission sequence used to break
	// priority ties FIFO.
	seq uint64
}
