// Package dispatch accepts run requests, persists the run record, and
// feeds execution through per-account lanes under a global concurrency
// cap.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/magpie/internal/types"
)

// Job is one queued run execution. Lane groups jobs that must run
// sequentially; all runs for the same platform account share a lane so
// the account never acts in two places at once.
type Job struct {
	RunID types.RunID
	Lane  string
	Ctx   context.Context
}

// Queue manages per-lane FIFO channels with a global concurrency
// semaphore. Jobs within a lane are processed sequentially; the semaphore
// limits total concurrent executions across lanes.
type Queue struct {
	lanes     map[string]chan *Job
	semaphore *semaphore.Weighted
	processor func(*Job)
	active    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewQueue creates a Queue allowing up to maxConcurrent simultaneous
// executions across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[string]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight jobs to finish. Safe to call more than once.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.wg.Wait()
		return
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a job to its lane, creating the lane goroutine on first
// use. Returns an error when the queue is stopped or the lane's buffer is
// full.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is stopped")
	}

	key := job.Lane
	if key == "" {
		key = "default"
	}
	lane, exists := q.lanes[key]
	if !exists {
		lane = make(chan *Job, 100)
		q.lanes[key] = lane
		q.wg.Add(1)
		go q.processLane(key, lane)
	}

	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue full for lane %s", key)
	}
}

// processLane drains one lane, acquiring a semaphore slot before invoking
// the processor synchronously. Strict FIFO within the lane; the semaphore
// bounds cross-lane parallelism.
func (q *Queue) processLane(key string, lane chan *Job) {
	defer q.wg.Done()
	for {
		select {
		case job, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			if q.processor != nil {
				q.active.Add(1)
				job.Ctx = q.ctx
				q.processor(job)
				q.active.Add(-1)
			}
			q.semaphore.Release(1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no jobs are actively being processed, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued job.
func (q *Queue) SetProcessor(fn func(*Job)) {
	q.processor = fn
}
