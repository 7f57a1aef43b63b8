// Package taskqueue provides the serialized executor that fetch sessions run on:
// tasks submitted from any goroutine execute one at a time, in submission
// order, on a single consumer goroutine.
package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// DefaultCapacity is the ring capacity used when none is given
const DefaultCapacity = 256

// ErrStopped is returned by Sync once the queue has been stopped
var ErrStopped = errors.New("task queue is stopped")

// Task is a unit of serialized work
type Task func()

// Queue is a multi-producer, single-consumer FIFO task executor.
//
// Producers are serialized by mu onto a lock-free SPSC ring; the consumer
// goroutine drains it without locking. When the ring is full, tasks spill
// into overflow, and every later task goes there too until the consumer has
// caught up, which keeps execution in submission order.
type Queue struct {
	mu       sync.Mutex
	ring     lfq.SPSC[Task]
	overflow []Task
	stopped  bool

	wake   chan struct{}
	logger *slog.Logger

	// Background worker control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
}

// New creates a task queue. capacity <= 0 selects DefaultCapacity.
func New(capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		wake:   make(chan struct{}, 1),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	q.ring.Init(capacity)
	return q
}

// Start begins the consumer goroutine. Tasks submitted before Start are kept
// and run once it begins.
func (q *Queue) Start() {
	q.started.Do(func() {
		q.logger.Debug("Starting task queue")
		q.wg.Add(1)
		go q.runLoop()
	})
}

// Stop rejects further tasks, runs the ones already queued and waits for the
// consumer to exit. On a queue that was never started, the queued tasks run
// on the caller's goroutine and Start becomes a no-op.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	q.started.Do(q.drain)
	q.cancel()
	q.wg.Wait()
	q.logger.Debug("Task queue stopped")
}

// Execute submits task for serialized execution. It never blocks.
func (q *Queue) Execute(task func()) {
	if task == nil {
		return
	}
	if !q.submit(task) {
		q.logger.Debug("Dropping task submitted after stop")
	}
}

// Sync waits until every task submitted before it has run.
func (q *Queue) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if !q.submit(func() { close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) submit(task Task) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	if len(q.overflow) > 0 {
		q.overflow = append(q.overflow, task)
	} else if err := q.ring.Enqueue(&task); err != nil {
		if !iox.IsWouldBlock(err) {
			q.logger.Warn("Unexpected ring enqueue error, spilling to overflow", "error", err)
		}
		q.overflow = append(q.overflow, task)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// drain runs queued tasks until both the ring and the overflow are empty.
// Ring entries are always older than overflow entries.
func (q *Queue) drain() {
	for {
		task, err := q.ring.Dequeue()
		if err == nil {
			q.run(task)
			continue
		}

		q.mu.Lock()
		batch := q.overflow
		q.overflow = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, task := range batch {
			q.run(task)
		}
	}
}

func (q *Queue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked", "panic", r)
		}
	}()
	task()
}
