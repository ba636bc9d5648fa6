package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/flowmatic/dispatch/internal/events"
)

// ExecutorConfig holds configuration for the task executor.
type ExecutorConfig struct {
	// WorkerCount determines how many concurrent worker loops drain
	// the queue.
	WorkerCount int

	// BlockingWorkers bounds the helper pool used for non-cooperative
	// work.
	BlockingWorkers int

	// PollInterval is the queue poll timeout inside a worker loop.
	// Keeping it short lets workers re-check the shutdown signal
	// promptly.
	PollInterval time.Duration

	// WaitPollInterval is the fixed interval Wait uses to poll for a
	// terminal result.
	WaitPollInterval time.Duration
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		WorkerCount:      4,
		BlockingWorkers:  4,
		PollInterval:     time.Second,
		WaitPollInterval: 100 * time.Millisecond,
	}
}

type executorState int

const (
	stateNotStarted executorState = iota
	stateRunning
	stateStopping
	stateStopped
)

// errResultPending drives the Wait retry loop; never returned to callers.
var errResultPending = errors.New("result not ready")

// Executor owns the worker loops that pull tasks from one priority
// queue and execute them, either inline or through the blocking pool.
// Execution errors are recorded as failed results and never escape a
// worker loop.
type Executor struct {
	queue  *PriorityQueue
	pool   *BlockingPool
	cfg    ExecutorConfig
	logger *slog.Logger

	emitter events.Emitter

	mu        sync.Mutex
	state     executorState
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc
}

// NewExecutor creates an executor bound to the given queue. Invalid
// config values fall back to defaults.
func NewExecutor(queue *PriorityQueue, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	def := DefaultExecutorConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BlockingWorkers <= 0 {
		cfg.BlockingWorkers = def.BlockingWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = def.WaitPollInterval
	}

	return &Executor{
		queue:    queue,
		pool:     NewBlockingPool(cfg.BlockingWorkers, logger),
		cfg:      cfg,
		logger:   logger.With("component", "executor"),
		inflight: make(map[string]context.CancelFunc),
	}
}

// SetEmitter registers an event emitter that receives a lifecycle
// event for every recorded result. Must be called before Start.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	e.emitter = emitter
}

// Queue returns the executor's priority queue.
func (e *Executor) Queue() *PriorityQueue { return e.queue }

// Start spawns the worker loops. Calling Start on a running executor
// is a no-op.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateRunning || e.state == stateStopping {
		e.logger.Warn("executor already running, ignoring start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel
	e.state = stateRunning

	for i := 0; i < e.cfg.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}

	e.logger.Info("executor started",
		"worker_count", e.cfg.WorkerCount,
		"blocking_workers", e.cfg.BlockingWorkers)
}

// Stop signals shutdown, cancels every tracked in-flight execution,
// waits for the worker loops to exit, then drains the blocking pool.
// Draining is deliberate: Stop can block for as long as the longest
// in-flight blocking call. A stopped executor can be started again.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.state != stateRunning {
		e.mu.Unlock()
		return
	}
	e.state = stateStopping
	cancel := e.runCancel
	e.mu.Unlock()

	e.cancelInflight()
	cancel()
	e.wg.Wait()
	e.pool.Drain()

	e.mu.Lock()
	e.state = stateStopped
	e.mu.Unlock()
	e.logger.Info("executor stopped")
}

// SubmitOptions carries the optional parameters of a task submission.
type SubmitOptions struct {
	// ID is the caller-supplied task id; generated when empty.
	ID string

	// Priority of the task; the zero value is PriorityNormal.
	Priority Priority

	// Metadata is attached to the task and echoed in its result.
	Metadata map[string]any

	// Retries seeds the task's retry counter.
	Retries int
}

// Submit enqueues one unit of work and returns its task id without
// waiting for execution. Submission failures (full queue, duplicate
// id) are the only errors surfaced here; execution failures are
// recorded in the task's result.
func (e *Executor) Submit(work Invocable, opts SubmitOptions) (string, error) {
	if work == nil {
		return "", errors.New("submit: work must not be nil")
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	t := &Task{
		ID:        id,
		Work:      work,
		Priority:  opts.Priority,
		Metadata:  opts.Metadata,
		CreatedAt: time.Now(),
		Retries:   opts.Retries,
	}
	if err := e.queue.Enqueue(t); err != nil {
		return "", fmt.Errorf("submit task %s: %w", id, err)
	}
	return id, nil
}

// Resubmit enqueues a fresh attempt of a task that already has a
// recorded result, reusing its id and metadata and incrementing the
// retry counter. The scheduler applies no retry policy of its own;
// when and whether to resubmit is the caller's decision.
func (e *Executor) Resubmit(prevID string, work Invocable, priority Priority) (string, error) {
	prev, ok := e.queue.GetResult(prevID)
	if !ok {
		return "", fmt.Errorf("resubmit %s: no recorded result", prevID)
	}
	return e.Submit(work, SubmitOptions{
		ID:       prevID,
		Priority: priority,
		Metadata: prev.Metadata,
		Retries:  prev.Retries + 1,
	})
}

// GetResult looks up a recorded result by task id.
func (e *Executor) GetResult(id string) (*Result, bool) {
	return e.queue.GetResult(id)
}

// Wait polls at a fixed interval until the task reaches a terminal
// status or the timeout elapses. A zero timeout waits until ctx is
// done. On timeout it returns ErrWaitTimeout; the underlying task is
// unaffected and keeps running.
func (e *Executor) Wait(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var res *Result
	op := func() error {
		if r, ok := e.queue.GetResult(id); ok && r.Status.Terminal() {
			res = r
			return nil
		}
		return errResultPending
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(e.cfg.WaitPollInterval), waitCtx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, id, timeout)
		}
		if waitCtx.Err() != nil {
			return nil, waitCtx.Err()
		}
		return nil, err
	}
	return res, nil
}

// Cancel requests cancellation of one in-flight task. Best effort: a
// task already past its last suspension point may still complete.
func (e *Executor) Cancel(id string) bool {
	e.inflightMu.Lock()
	cancel, ok := e.inflight[id]
	e.inflightMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// worker is one cooperative loop: poll the queue with a short timeout,
// execute what it gets, repeat until shutdown.
func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	logger := e.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopping")
			return
		default:
		}

		t, ok := e.queue.Dequeue(e.cfg.PollInterval)
		if !ok {
			// Empty poll; loop to re-check the shutdown signal.
			continue
		}
		e.execute(ctx, t, logger)
	}
}

// execute runs one task and records its result. Errors and panics
// raised by the work are converted into a failed result; nothing
// escapes the worker loop.
func (e *Executor) execute(ctx context.Context, t *Task, logger *slog.Logger) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.track(t.ID, cancel)
	defer e.untrack(t.ID)

	logger = logger.With("task_id", t.ID, "priority", t.Priority)
	logger.Debug("task started")

	started := time.Now()
	var value any
	var err error
	if isBlocking(t.Work) {
		value, err = e.pool.Run(taskCtx, t.Work)
	} else {
		value, err = invoke(taskCtx, t.Work)
	}
	finished := time.Now()

	res := &Result{
		TaskID:     t.ID,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Retries:    t.Retries,
		Metadata:   t.Metadata,
	}
	switch {
	case err == nil:
		res.Status = StatusCompleted
		res.Value = value
		logger.Info("task completed", "duration", res.Duration)
	case taskCtx.Err() != nil && errors.Is(err, context.Canceled):
		res.Status = StatusCancelled
		res.Error = err.Error()
		logger.Info("task cancelled", "duration", res.Duration)
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
		logger.Error("task failed", "error", err, "duration", res.Duration)
	}

	e.queue.RecordResult(res)
	e.emit(res, logger)
}

func (e *Executor) emit(res *Result, logger *slog.Logger) {
	if e.emitter == nil {
		return
	}
	ev, err := events.NewTaskEvent(events.TypeForStatus(string(res.Status)), events.TaskOutcome{
		TaskID:     res.TaskID,
		Status:     string(res.Status),
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.Error,
	})
	if err != nil {
		logger.Error("failed to build task event", "error", err)
		return
	}
	if err := e.emitter.Emit(context.Background(), ev); err != nil {
		logger.Error("failed to emit task event", "error", err)
	}
}

// invoke runs cooperative work inline, converting panics to errors.
func invoke(ctx context.Context, work Invocable) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return work.Invoke(ctx)
}

// track registers the cancel func used by Stop and Cancel.
func (e *Executor) track(id string, cancel context.CancelFunc) {
	e.inflightMu.Lock()
	e.inflight[id] = cancel
	e.inflightMu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.inflightMu.Lock()
	delete(e.inflight, id)
	e.inflightMu.Unlock()
}

func (e *Executor) cancelInflight() {
	e.inflightMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.inflight))
	for _, cancel := range e.inflight {
		cancels = append(cancels, cancel)
	}
	e.inflightMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
