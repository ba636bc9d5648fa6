package task

import "errors"

// Errors returned by the scheduler. Task-level execution failures are
// never surfaced this way; they are recorded in the task's Result.
var (
	// ErrQueueFull is returned by Enqueue when a bounded queue is at
	// capacity.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned by Enqueue after the queue is closed.
	ErrQueueClosed = errors.New("task queue is closed")

	// ErrDuplicateTask is returned when a task id is already pending.
	ErrDuplicateTask = errors.New("task id already pending")

	// ErrWaitTimeout is returned by Wait when the deadline elapses
	// before the task reaches a terminal status. The task itself keeps
	// running.
	ErrWaitTimeout = errors.New("timed out waiting for task")

	// ErrUnknownJob is returned by GetJobStatus for an unrecognized
	// job id.
	ErrUnknownJob = errors.New("unknown batch job")
)
