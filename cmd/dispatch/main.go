// Package main implements the entry point for the dispatch scheduler
// daemon. It wires configuration, logging, the priority queue, the
// task executor, and the batch orchestrator together and runs until a
// shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmatic/dispatch/internal/config"
	"github.com/flowmatic/dispatch/internal/events"
	"github.com/flowmatic/dispatch/internal/platform/logger"
	"github.com/flowmatic/dispatch/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("dispatch: %v", err)
	}
}

// run builds the scheduler from configuration, starts it, and blocks
// until SIGINT or SIGTERM triggers a graceful stop. The scheduler is
// constructed once here and handed to anything that needs to submit
// work; there is no ambient global instance.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Logging)
	appLogger.Info("configuration loaded",
		"worker_count", cfg.Scheduler.WorkerCount,
		"blocking_workers", cfg.Scheduler.BlockingWorkers,
		"queue_capacity", cfg.Scheduler.QueueCapacity,
		"history_capacity", cfg.Scheduler.HistoryCapacity,
		"log_level", cfg.Logging.Level)

	queue := task.NewPriorityQueue(task.QueueConfig{
		MaxPending:      cfg.Scheduler.QueueCapacity,
		HistoryCapacity: cfg.Scheduler.HistoryCapacity,
	}, appLogger)

	executor := task.NewExecutor(queue, task.ExecutorConfig{
		WorkerCount:      cfg.Scheduler.WorkerCount,
		BlockingWorkers:  cfg.Scheduler.BlockingWorkers,
		PollInterval:     cfg.Scheduler.PollInterval,
		WaitPollInterval: cfg.Scheduler.WaitPollInterval,
	}, appLogger)

	emitter := events.NewInMemoryEmitter(appLogger)
	emitter.RegisterHandler(&outcomeLogger{logger: appLogger})
	executor.SetEmitter(emitter)

	orchestrator := task.NewOrchestrator(executor, appLogger)

	executor.Start()

	if cfg.Scheduler.Demo {
		if err := runDemo(orchestrator, queue, appLogger); err != nil {
			appLogger.Error("demo workload failed", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	appLogger.Info("shutdown signal received", "signal", sig.String())

	orchestrator.WaitIdle()
	executor.Stop()

	stats := queue.Stats()
	appLogger.Info("scheduler drained",
		"total_tasks", stats.TotalTasks,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"cancelled", stats.Cancelled,
		"avg_duration", stats.AvgDuration)
	return nil
}

// runDemo submits a small batch through the orchestrator and logs the
// resulting job report and queue statistics. Gated by scheduler.demo;
// it lets an operator verify a deployment end to end without writing
// an embedding application. The batch includes a failing task so the
// report shows failure isolation at work.
func runDemo(orch *task.Orchestrator, queue *task.PriorityQueue, logger *slog.Logger) error {
	tasks := []task.BatchTask{
		{
			Work: task.Func(func(ctx context.Context) (any, error) {
				sum := 0
				for i := 1; i <= 100; i++ {
					sum += i
				}
				return sum, nil
			}),
			Metadata: map[string]any{"demo_task": "sum"},
		},
		{
			Work: task.BlockingFunc(func(ctx context.Context) (any, error) {
				select {
				case <-time.After(50 * time.Millisecond):
					return "simulated blocking call", nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}),
			Metadata: map[string]any{"demo_task": "blocking"},
		},
		{
			Work: task.Func(func(ctx context.Context) (any, error) {
				return nil, errors.New("demo task failed on purpose")
			}),
			Metadata: map[string]any{"demo_task": "failing"},
		},
	}

	done := make(chan struct{})
	jobID, err := orch.SubmitJob(context.Background(), tasks, task.JobOptions{
		Priority: task.PriorityHigh,
		Timeout:  30 * time.Second,
		Callback: func(string, map[string]*task.Result) { close(done) },
		Metadata: map[string]any{"source": "demo"},
	})
	if err != nil {
		return fmt.Errorf("failed to submit demo job: %w", err)
	}

	select {
	case <-done:
	case <-time.After(time.Minute):
		return fmt.Errorf("demo job %s did not finish in time", jobID)
	}

	report, err := orch.GetJobStatus(jobID)
	if err != nil {
		return fmt.Errorf("failed to fetch demo job report: %w", err)
	}
	logger.Info("demo job finished",
		"job_id", report.JobID,
		"status", report.Status,
		"total_tasks", report.TotalTasks,
		"completed_tasks", report.CompletedTasks,
		"failed_tasks", report.FailedTasks)
	for _, ts := range report.Tasks {
		logger.Info("demo task outcome",
			"task_id", ts.TaskID,
			"index", ts.Index,
			"status", ts.Status,
			"duration", ts.Duration,
			"error", ts.Error)
	}

	stats := queue.Stats()
	logger.Info("demo queue stats",
		"total_tasks", stats.TotalTasks,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"avg_duration", stats.AvgDuration)
	return nil
}

// outcomeLogger logs every task lifecycle event. It doubles as the
// reference event handler for embedding applications.
type outcomeLogger struct {
	logger *slog.Logger
}

func (h *outcomeLogger) HandleEvent(_ context.Context, event *events.TaskEvent) error {
	var outcome events.TaskOutcome
	if err := event.UnmarshalPayload(&outcome); err != nil {
		return fmt.Errorf("failed to unmarshal outcome payload: %w", err)
	}
	h.logger.Debug("task lifecycle event",
		"event_type", event.Type,
		"task_id", outcome.TaskID,
		"status", outcome.Status,
		"duration_ms", outcome.DurationMS)
	return nil
}
