package core

import "sync"

// ExecutorQueue is the worker's private, mapping-free job FIFO (spec §3,
// §4.3). A nil entry in the queue is the shutdown sentinel: Get returns
// (nil, true) once it is reached.
type ExecutorQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*Job
}

// NewExecutorQueue constructs an empty queue.
func NewExecutorQueue() *ExecutorQueue {
	q := &ExecutorQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Schedule atomically appends jobs (possibly empty) to the queue and wakes
// any blocked Get call. Atomicity matters: if a job spawns siblings within
// the same procedure, an interleaved read that saw only some of them could
// make the worker believe the procedure was drained and advance to another
// procedure too early (spec §4.3).
func (q *ExecutorQueue) Schedule(jobs []*Job) {
	if len(jobs) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, jobs...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// ScheduleShutdown appends the nil shutdown sentinel.
func (q *ExecutorQueue) ScheduleShutdown() {
	q.mu.Lock()
	q.items = append(q.items, nil)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Get blocks until a job is available and returns it. A returned (nil,
// true) means "stop the worker".
func (q *ExecutorQueue) Get() (job *Job, stop bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	if item == nil {
		return nil, true
	}
	return item, false
}

// Done marks one delivered item as processed. Bookkeeping only (spec §4.3
// notes this is not required by the rest of the core); kept as a distinct
// no-op call so a future counting-join use doesn't need a contract change.
func (q *ExecutorQueue) Done() {}
