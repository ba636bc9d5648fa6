package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a batch job, independent of the
// outcomes of its constituent tasks.
type JobStatus string

// Possible batch job states.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// BatchTask is one task specification inside a batch job.
type BatchTask struct {
	Work     Invocable
	Metadata map[string]any
}

// JobCallback is invoked once every task of a job has reached a
// terminal state. Panics inside the callback are recovered and logged.
type JobCallback func(jobID string, results map[string]*Result)

// JobOptions carries the optional parameters of a batch submission.
type JobOptions struct {
	// ID is the caller-supplied job id; generated when empty.
	ID string

	// BatchSize and MaxWorkers are informational grouping hints
	// carried in the job record.
	BatchSize  int
	MaxWorkers int

	// Priority applies to every task in the job.
	Priority Priority

	// RetryAttempts is informational; the scheduler applies no retry
	// policy.
	RetryAttempts int

	// Timeout bounds the wait for each task's terminal result. Zero
	// means wait indefinitely. A timed-out wait counts the task as
	// failed in the job counters without cancelling it.
	Timeout time.Duration

	// Callback runs after the job completes.
	Callback JobCallback

	// Metadata is attached to the job record.
	Metadata map[string]any
}

// BatchJob is the bookkeeping record for one submitted job. Mutations
// are guarded by the orchestrator's mutex.
type BatchJob struct {
	ID             string
	Status         JobStatus
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	TaskIDs        []string
	Priority       Priority
	BatchSize      int
	MaxWorkers     int
	RetryAttempts  int
	Timeout        time.Duration
	Metadata       map[string]any
	Error          string
	CreatedAt      time.Time
	FinishedAt     time.Time
}

// TaskSummary is the per-task slice of a job report.
type TaskSummary struct {
	TaskID   string
	Index    int
	Status   Status
	Duration time.Duration
	Error    string
}

// JobReport is the caller-facing snapshot returned by GetJobStatus.
type JobReport struct {
	JobID          string
	Status         JobStatus
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	Error          string
	CreatedAt      time.Time
	FinishedAt     time.Time
	Tasks          []TaskSummary
}

// Orchestrator fans out many related tasks as one logical job and
// aggregates their outcomes. Job counters update in completion order:
// one waiter per task, not a submission-ordered sweep.
type Orchestrator struct {
	exec   *Executor
	logger *slog.Logger

	mu            sync.Mutex
	active        map[string]*BatchJob
	finished      map[string]*BatchJob
	finishedOrder []string
	finishedCap   int

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator that submits through the
// given executor.
func NewOrchestrator(exec *Executor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		exec:        exec,
		logger:      logger.With("component", "batch_orchestrator"),
		active:      make(map[string]*BatchJob),
		finished:    make(map[string]*BatchJob),
		finishedCap: 256,
	}
}

// SubmitJob registers the job and returns its id immediately; task
// submission and aggregation run asynchronously.
func (o *Orchestrator) SubmitJob(ctx context.Context, tasks []BatchTask, opts JobOptions) (string, error) {
	if len(tasks) == 0 {
		return "", errors.New("batch job requires at least one task")
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	job := &BatchJob{
		ID:            id,
		Status:        JobStatusRunning,
		TotalTasks:    len(tasks),
		Priority:      opts.Priority,
		BatchSize:     opts.BatchSize,
		MaxWorkers:    opts.MaxWorkers,
		RetryAttempts: opts.RetryAttempts,
		Timeout:       opts.Timeout,
		Metadata:      opts.Metadata,
		CreatedAt:     time.Now(),
	}

	o.mu.Lock()
	if _, dup := o.active[id]; dup {
		o.mu.Unlock()
		return "", fmt.Errorf("batch job %s already active", id)
	}
	o.active[id] = job
	o.mu.Unlock()

	o.wg.Add(1)
	go o.run(ctx, job, tasks, opts)

	o.logger.Info("batch job submitted",
		"job_id", id,
		"task_count", len(tasks),
		"priority", opts.Priority)
	return id, nil
}

// GetJobStatus returns a snapshot of the job's counters plus a
// per-task summary joined against the queue's result store.
func (o *Orchestrator) GetJobStatus(jobID string) (*JobReport, error) {
	o.mu.Lock()
	job, ok := o.active[jobID]
	if !ok {
		job, ok = o.finished[jobID]
	}
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	report := &JobReport{
		JobID:          job.ID,
		Status:         job.Status,
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		FinishedAt:     job.FinishedAt,
	}
	taskIDs := append([]string(nil), job.TaskIDs...)
	o.mu.Unlock()

	queue := o.exec.Queue()
	report.Tasks = make([]TaskSummary, 0, len(taskIDs))
	for i, id := range taskIDs {
		summary := TaskSummary{TaskID: id, Index: i}
		switch res, ok := queue.GetResult(id); {
		case ok:
			summary.Status = res.Status
			summary.Duration = res.Duration
			summary.Error = res.Error
		case queue.Pending(id):
			summary.Status = StatusPending
		default:
			summary.Status = StatusRunning
		}
		report.Tasks = append(report.Tasks, summary)
	}
	return report, nil
}

// WaitIdle blocks until every submitted job's orchestration goroutine
// has finished. Intended for shutdown and tests.
func (o *Orchestrator) WaitIdle() {
	o.wg.Wait()
}

// run submits every task of the job, awaits the terminal results, and
// finalizes the job record. Only orchestration failures (a rejected
// submission) mark the job failed; individual task failures are
// reflected in the counters.
func (o *Orchestrator) run(ctx context.Context, job *BatchJob, tasks []BatchTask, opts JobOptions) {
	defer o.wg.Done()
	logger := o.logger.With("job_id", job.ID)

	results := make(map[string]*Result, len(tasks))
	var waiters sync.WaitGroup

	var submitErr error
	for i, bt := range tasks {
		md := map[string]any{"job_id": job.ID, "task_index": i}
		for k, v := range bt.Metadata {
			md[k] = v
		}

		taskID, err := o.exec.Submit(bt.Work, SubmitOptions{
			Priority: opts.Priority,
			Metadata: md,
		})
		if err != nil {
			submitErr = fmt.Errorf("submit task %d: %w", i, err)
			break
		}

		o.mu.Lock()
		job.TaskIDs = append(job.TaskIDs, taskID)
		o.mu.Unlock()

		waiters.Add(1)
		go func(id string) {
			defer waiters.Done()
			res, err := o.exec.Wait(ctx, id, opts.Timeout)
			o.mu.Lock()
			defer o.mu.Unlock()
			if err != nil {
				job.FailedTasks++
				logger.Warn("gave up waiting for task", "task_id", id, "error", err)
				return
			}
			results[id] = res
			if res.Status == StatusCompleted {
				job.CompletedTasks++
			} else {
				job.FailedTasks++
			}
		}(taskID)
	}

	// Await tasks that made it in even when a later submission failed,
	// so their counters stay truthful.
	waiters.Wait()

	if submitErr != nil {
		logger.Error("batch job failed", "error", submitErr)
		o.finalize(job, JobStatusFailed, submitErr.Error())
		return
	}

	o.mu.Lock()
	job.Status = JobStatusCompleted
	job.FinishedAt = time.Now()
	completed, failed := job.CompletedTasks, job.FailedTasks
	o.mu.Unlock()

	if opts.Callback != nil {
		o.invokeCallback(job.ID, opts.Callback, results, logger)
	}

	o.retire(job)
	logger.Info("batch job completed",
		"completed_tasks", completed,
		"failed_tasks", failed)
}

// invokeCallback shields job bookkeeping from a misbehaving callback.
func (o *Orchestrator) invokeCallback(jobID string, cb JobCallback, results map[string]*Result, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job callback panicked", "panic", r)
		}
	}()
	cb(jobID, results)
}

func (o *Orchestrator) finalize(job *BatchJob, status JobStatus, errMsg string) {
	o.mu.Lock()
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = time.Now()
	o.mu.Unlock()
	o.retire(job)
}

// retire moves the job from the active table to the bounded
// finished-jobs table so status queries keep working after completion.
func (o *Orchestrator) retire(job *BatchJob) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, job.ID)
	o.finished[job.ID] = job
	o.finishedOrder = append(o.finishedOrder, job.ID)
	if len(o.finishedOrder) > o.finishedCap {
		oldest := o.finishedOrder[0]
		delete(o.finished, oldest)
		o.finishedOrder = o.finishedOrder[1:]
	}
}
