package driver

import "sync"

// WorkQueue is an in-order asynchronous work queue backed by a single worker
// goroutine. Drivers embed it to implement Stream: items run strictly in
// enqueue order and the first execution error is retained until release.
type WorkQueue struct {
	ch   chan func()
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// queueDepth bounds how far the host can run ahead of execution.
const queueDepth = 64

// NewWorkQueue creates a WorkQueue and starts its worker goroutine.
func NewWorkQueue() *WorkQueue {
	q := &WorkQueue{
		ch:   make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for fn := range q.ch {
			fn()
		}
	}()
	return q
}

// Enqueue schedules fn to run after all previously enqueued work.
// Panics if called after Close.
func (q *WorkQueue) Enqueue(fn func() error) {
	if q.isClosed() {
		panic("driver: enqueue on closed work queue")
	}
	q.ch <- func() {
		if err := fn(); err != nil {
			q.setErr(err)
		}
	}
}

// Synchronize blocks until all previously enqueued work has completed and
// returns the first execution error, if any. After Close it returns the
// retained error without blocking.
func (q *WorkQueue) Synchronize() error {
	if q.isClosed() {
		return q.Err()
	}
	fence := make(chan struct{})
	q.ch <- func() { close(fence) }
	<-fence
	return q.Err()
}

// Close drains the queue, stops the worker, and returns the first execution
// error. Close is idempotent.
func (q *WorkQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.err
	}
	q.closed = true
	q.mu.Unlock()

	close(q.ch)
	<-q.done
	return q.Err()
}

// Err returns the first execution error recorded so far.
func (q *WorkQueue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

func (q *WorkQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *WorkQueue) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}
