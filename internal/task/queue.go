package task

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// QueueConfig holds configuration for the priority queue.
type QueueConfig struct {
	// MaxPending bounds the number of pending tasks. Zero means
	// unbounded; when the bound is reached Enqueue rejects with
	// ErrQueueFull.
	MaxPending int

	// HistoryCapacity bounds the completed-result history. Oldest
	// results are evicted in batches once the capacity is exceeded.
	HistoryCapacity int
}

// DefaultQueueConfig returns a QueueConfig with reasonable defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxPending:      0,
		HistoryCapacity: 1000,
	}
}

// QueueStats is a point-in-time snapshot of queue counters.
type QueueStats struct {
	QueueSize    int
	PendingCount int
	HistoryCount int
	TotalTasks   int64
	Completed    int64
	Failed       int64
	Cancelled    int64
	AvgDuration  time.Duration
}

// PriorityQueue is the thread-safe staging area for pending work and
// the bounded archive of results. Tasks are served strictly by
// (priority, submission order); all bookkeeping is guarded by a single
// mutex.
type PriorityQueue struct {
	mu      sync.Mutex
	heap    taskHeap
	pending map[string]*Task
	seq     uint64
	closed  bool

	history    map[string]*Result
	order      []string
	historyCap int
	evictBatch int

	totalTasks  int64
	completed   int64
	failed      int64
	cancelled   int64
	recorded    int64
	avgDuration time.Duration

	cfg    QueueConfig
	logger *slog.Logger

	// signal carries at most one wakeup for blocked Dequeue callers;
	// closeCh unblocks all of them on Close.
	signal  chan struct{}
	closeCh chan struct{}
}

// NewPriorityQueue creates a priority queue with the given configuration.
func NewPriorityQueue(cfg QueueConfig, logger *slog.Logger) *PriorityQueue {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultQueueConfig().HistoryCapacity
	}
	evictBatch := cfg.HistoryCapacity / 20
	if evictBatch < 1 {
		evictBatch = 1
	}
	return &PriorityQueue{
		heap:       taskHeap{},
		pending:    make(map[string]*Task),
		history:    make(map[string]*Result),
		historyCap: cfg.HistoryCapacity,
		evictBatch: evictBatch,
		cfg:        cfg,
		logger:     logger.With("component", "priority_queue"),
		signal:     make(chan struct{}, 1),
		closeCh:    make(chan struct{}),
	}
}

// Enqueue inserts a task ordered by (priority, submission sequence).
// It rejects duplicate pending ids and, for bounded queues, rejects
// inserts past capacity.
func (q *PriorityQueue) Enqueue(t *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if _, ok := q.pending[t.ID]; ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if q.cfg.MaxPending > 0 && q.heap.Len() >= q.cfg.MaxPending {
		q.mu.Unlock()
		return fmt.Errorf("%w: capacity %d reached", ErrQueueFull, q.cfg.MaxPending)
	}

	t.seq = q.seq
	q.seq++
	heap.Push(&q.heap, t)
	q.pending[t.ID] = t
	q.totalTasks++
	size := q.heap.Len()
	q.mu.Unlock()

	q.wake()
	q.logger.Debug("task enqueued",
		"task_id", t.ID,
		"priority", t.Priority,
		"queue_size", size)
	return nil
}

// Dequeue pops the highest-priority, earliest-submitted pending task,
// blocking up to timeout. It returns false on timeout or when the
// queue is closed and drained. Removal from the pending lookup is
// atomic with the pop.
func (q *PriorityQueue) Dequeue(timeout time.Duration) (*Task, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			t := heap.Pop(&q.heap).(*Task)
			delete(q.pending, t.ID)
			more := q.heap.Len() > 0
			q.mu.Unlock()
			if more {
				// Re-arm so another blocked consumer observes the
				// remaining items.
				q.wake()
			}
			return t, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-q.signal:
		case <-q.closeCh:
		case <-timer.C:
			return nil, false
		}
	}
}

// RecordResult stores a terminal result in the bounded history,
// evicting the oldest batch once capacity is exceeded, and updates the
// aggregate counters.
func (q *PriorityQueue) RecordResult(res *Result) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.history[res.TaskID]; !ok {
		q.order = append(q.order, res.TaskID)
	}
	q.history[res.TaskID] = res

	switch res.Status {
	case StatusCompleted:
		q.completed++
	case StatusFailed:
		q.failed++
	case StatusCancelled:
		q.cancelled++
	}

	q.recorded++
	n := q.recorded
	q.avgDuration = time.Duration((int64(q.avgDuration)*(n-1) + int64(res.Duration)) / n)

	if len(q.order) > q.historyCap {
		evict := q.evictBatch
		if over := len(q.order) - q.historyCap; over > evict {
			evict = over
		}
		for _, id := range q.order[:evict] {
			delete(q.history, id)
		}
		q.order = append(q.order[:0:0], q.order[evict:]...)
		q.logger.Debug("evicted oldest results",
			"evicted", evict,
			"history_size", len(q.order))
	}
}

// GetResult looks up a recorded result by task id.
func (q *PriorityQueue) GetResult(id string) (*Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.history[id]
	return res, ok
}

// Pending reports whether the task id is currently waiting in the queue.
func (q *PriorityQueue) Pending(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Len returns the number of pending tasks.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stats returns a snapshot of the queue's counters.
func (q *PriorityQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		QueueSize:    q.heap.Len(),
		PendingCount: len(q.pending),
		HistoryCount: len(q.history),
		TotalTasks:   q.totalTasks,
		Completed:    q.completed,
		Failed:       q.failed,
		Cancelled:    q.cancelled,
		AvgDuration:  q.avgDuration,
	}
}

// Close prevents further submission and unblocks waiting consumers.
// Already-pending tasks may still be dequeued.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.closeCh)
		q.logger.Info("task queue closed", "pending", q.heap.Len())
	}
}

func (q *PriorityQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// taskHeap orders tasks by priority rank, then submission sequence.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
