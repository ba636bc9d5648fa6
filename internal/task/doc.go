// Package task implements the asynchronous task scheduler: a priority
// queue of pending work, a configurable set of worker loops that drain
// it, a bounded blocking pool for non-cooperative work, and a batch
// orchestrator that groups many submissions into a single tracked job.
// The scheduler never inspects submitted work; callers learn about
// task-level outcomes by reading results, not by catching errors.
package task
