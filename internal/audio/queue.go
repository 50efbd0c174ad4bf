package audio

import (
	"sync"
	"sync/atomic"
)

// Queue is the bounded hand-off between an audio producer (device callback
// or network read loop) and the single worker that buffers and transcribes.
// Push never blocks; chunks arriving while the queue is full are dropped.
type Queue struct {
	ch   chan Chunk
	done chan struct{}

	closeOnce sync.Once
	runOnce   sync.Once
	workerWG  sync.WaitGroup

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity chunks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Chunk, capacity),
		done: make(chan struct{}),
	}
}

// Push offers a chunk to the worker. It returns false when the queue is
// full or closed; the chunk is discarded in both cases.
func (q *Queue) Push(c Chunk) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- c:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Run starts the worker goroutine that hands every queued chunk to handler,
// one at a time and in arrival order. Only the first call has effect.
func (q *Queue) Run(handler func(Chunk)) {
	q.runOnce.Do(func() {
		q.workerWG.Add(1)
		go func() {
			defer q.workerWG.Done()
			for {
				select {
				case <-q.done:
					return
				case c := <-q.ch:
					// a close that raced with the receive wins
					select {
					case <-q.done:
						return
					default:
					}
					handler(c)
				}
			}
		}()
	})
}

// Close stops delivery and discards chunks still waiting in the queue.
// It does not wait for a handler call already in progress; use Wait for that.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the worker goroutine has exited.
func (q *Queue) Wait() {
	q.workerWG.Wait()
}

// Len returns the number of chunks waiting for the worker.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pushed returns the number of chunks accepted since creation.
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of chunks discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
