package managed

import (
	"sync"
)

// queue is an unbounded FIFO drained by a single worker goroutine. Enqueue
// never blocks, so a context may schedule work on another context while it
// runs a job of its own.
type queue struct {
	mu      sync.Mutex
	jobs    []func()
	closed  bool
	signal  chan struct{} // buffered, size 1
	stopped chan struct{}
}

func newQueue() *queue {
	q := &queue{
		jobs:    make([]func(), 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// enqueue returns false once the queue is closed.
func (q *queue) enqueue(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return job, true
}

func (q *queue) run() {
	defer close(q.stopped)
	for {
		if job, ok := q.next(); ok {
			job()
			continue
		}
		q.mu.Lock()
		done := q.closed && len(q.jobs) == 0
		q.mu.Unlock()
		if done {
			return
		}
		<-q.signal
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// close stops accepting jobs and waits until the queued ones have run. It
// must not be called from a job.
func (q *queue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	q.mu.Unlock()
	<-q.stopped
}
