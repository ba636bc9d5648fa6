package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(workers int) *Executor {
	queue := NewPriorityQueue(DefaultQueueConfig(), testLogger())
	return NewExecutor(queue, ExecutorConfig{
		WorkerCount:      workers,
		BlockingWorkers:  2,
		PollInterval:     20 * time.Millisecond,
		WaitPollInterval: 5 * time.Millisecond,
	}, testLogger())
}

func TestExecutor_SubmitAndWait(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(2)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return 42, nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 42, res.Value)
	assert.Empty(t, res.Error)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
	assert.False(t, res.StartedAt.IsZero())
	assert.False(t, res.FinishedAt.IsZero())
}

func TestExecutor_CustomIDAndMetadata(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	md := map[string]any{"origin": "unit-test"}
	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return nil, nil
	}), SubmitOptions{ID: "my-task", Priority: PriorityNormal, Metadata: md})
	require.NoError(t, err)
	assert.Equal(t, "my-task", id)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "unit-test", res.Metadata["origin"])
}

func TestExecutor_FailedTaskDoesNotStopWorkers(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	failID, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return nil, errors.New("intentional test failure")
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	res, err := exec.Wait(context.Background(), failID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "intentional test failure")
	assert.Nil(t, res.Value)

	// The worker loop survived; subsequent tasks are served.
	okID, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return "still alive", nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	res, err = exec.Wait(context.Background(), okID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "still alive", res.Value)
}

func TestExecutor_PanicConvertedToFailure(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		panic("unexpected state")
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "panicked")
}

func TestExecutor_PriorityDispatchWithSingleWorker(t *testing.T) {
	t.Parallel()

	// Submit before starting so the single worker sees both tasks
	// queued and must pick by priority.
	exec := newTestExecutor(1)

	order := make(chan string, 2)
	record := func(name string) Invocable {
		return Func(func(ctx context.Context) (any, error) {
			order <- name
			return nil, nil
		})
	}

	_, err := exec.Submit(record("low"), SubmitOptions{Priority: PriorityLow})
	require.NoError(t, err)
	_, err = exec.Submit(record("critical"), SubmitOptions{Priority: PriorityCritical})
	require.NoError(t, err)

	exec.Start()
	defer exec.Stop()

	assert.Equal(t, "critical", <-order)
	assert.Equal(t, "low", <-order)
}

func TestExecutor_UnsetPriorityDefaultsToNormal(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)

	order := make(chan string, 3)
	record := func(name string) Invocable {
		return Func(func(ctx context.Context) (any, error) {
			order <- name
			return nil, nil
		})
	}

	// An unset priority must sit between high and low, never at the top.
	_, err := exec.Submit(record("low"), SubmitOptions{Priority: PriorityLow})
	require.NoError(t, err)
	_, err = exec.Submit(record("unset"), SubmitOptions{})
	require.NoError(t, err)
	_, err = exec.Submit(record("critical"), SubmitOptions{Priority: PriorityCritical})
	require.NoError(t, err)

	exec.Start()
	defer exec.Stop()

	assert.Equal(t, "critical", <-order)
	assert.Equal(t, "unset", <-order)
	assert.Equal(t, "low", <-order)
}

func TestExecutor_FIFOTieBreakWithSingleWorker(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)

	order := make(chan string, 2)
	record := func(name string) Invocable {
		return Func(func(ctx context.Context) (any, error) {
			order <- name
			return nil, nil
		})
	}

	aID, err := exec.Submit(record("a"), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)
	_, err = exec.Submit(record("b"), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	exec.Start()
	defer exec.Stop()

	// A completes before B begins.
	assert.Equal(t, "a", <-order)
	res, err := exec.Wait(context.Background(), aID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "b", <-order)
}

func TestExecutor_WaitTimeoutLeavesTaskRunning(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return "slow but steady", nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	_, err = exec.Wait(context.Background(), id, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)

	// The task was not cancelled by the abandoned wait.
	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "slow but steady", res.Value)
}

func TestExecutor_GetResultIdempotent(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return "v", nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	_, err = exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)

	first, ok := exec.GetResult(id)
	require.True(t, ok)
	second, ok := exec.GetResult(id)
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestExecutor_StopCancelsInflightTask(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()

	started := make(chan struct{})
	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	<-started
	exec.Stop()

	res, ok := exec.GetResult(id)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestExecutor_CancelSingleTask(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	started := make(chan struct{})
	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	<-started
	assert.True(t, exec.Cancel(id))

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)

	// Cancelling a task that is no longer in flight reports false.
	// Brief pause: the worker untracks the id just after recording
	// the result.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, exec.Cancel(id))
}

func TestExecutor_RestartAfterStop(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(2)
	exec.Start()
	exec.Stop()

	// Start is a no-op while running; after a stop it must resume.
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return "resumed", nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "resumed", res.Value)
}

func TestExecutor_BlockingWorkRunsOnPool(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(BlockingFunc(func(ctx context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "from the pool", nil
	}), SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "from the pool", res.Value)
}

func TestExecutor_Resubmit(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	exec.Start()
	defer exec.Stop()

	id, err := exec.Submit(Func(func(ctx context.Context) (any, error) {
		return nil, errors.New("flaky dependency")
	}), SubmitOptions{Priority: PriorityNormal, Metadata: map[string]any{"kind": "sync"}})
	require.NoError(t, err)

	res, err := exec.Wait(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.Retries)

	retryID, err := exec.Resubmit(id, Func(func(ctx context.Context) (any, error) {
		return "second time lucky", nil
	}), PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, id, retryID)

	deadline := time.Now().Add(2 * time.Second)
	var retried *Result
	for time.Now().Before(deadline) {
		if r, ok := exec.GetResult(id); ok && r.Status == StatusCompleted {
			retried = r
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, retried, "resubmitted task should complete")
	assert.Equal(t, "second time lucky", retried.Value)
	assert.Equal(t, 1, retried.Retries)
	assert.Equal(t, "sync", retried.Metadata["kind"])

	// Resubmitting an unknown id is a submission error.
	_, err = exec.Resubmit("never-seen", Func(func(ctx context.Context) (any, error) {
		return nil, nil
	}), PriorityNormal)
	assert.Error(t, err)
}

func TestExecutor_SubmitNilWork(t *testing.T) {
	t.Parallel()

	exec := newTestExecutor(1)
	_, err := exec.Submit(nil, SubmitOptions{Priority: PriorityNormal})
	assert.Error(t, err)
}

func TestExecutor_SubmissionErrorPropagates(t *testing.T) {
	t.Parallel()

	queue := NewPriorityQueue(QueueConfig{MaxPending: 1, HistoryCapacity: 10}, testLogger())
	exec := NewExecutor(queue, ExecutorConfig{
		WorkerCount:      1,
		BlockingWorkers:  1,
		PollInterval:     20 * time.Millisecond,
		WaitPollInterval: 5 * time.Millisecond,
	}, testLogger())

	work := Func(func(ctx context.Context) (any, error) { return nil, nil })
	_, err := exec.Submit(work, SubmitOptions{Priority: PriorityNormal})
	require.NoError(t, err)

	_, err = exec.Submit(work, SubmitOptions{Priority: PriorityNormal})
	assert.ErrorIs(t, err, ErrQueueFull)
}
