package task

import "time"

// Result is the terminal outcome record for one task execution. It is
// created by a worker loop, stored in the queue's bounded history, and
// read-only to callers.
type Result struct {
	// TaskID identifies the task this result belongs to.
	TaskID string

	// Status is the terminal status of the execution.
	Status Status

	// Value is the opaque success value returned by the work.
	// Nil unless Status is StatusCompleted.
	Value any

	// Error holds the failure message when Status is StatusFailed or
	// StatusCancelled.
	Error string

	// StartedAt and FinishedAt bound the execution attempt.
	StartedAt  time.Time
	FinishedAt time.Time

	// Duration is FinishedAt minus StartedAt.
	Duration time.Duration

	// Retries is copied from the task record.
	Retries int

	// Metadata is copied from the task record.
	Metadata map[string]any
}
