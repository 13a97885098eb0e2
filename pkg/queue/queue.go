package queue

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// defaultCapacity mirrors spec.md §4.8's min(8, cpu_count+4) bound.
func defaultCapacity() int {
	n := runtime.NumCPU() + 4
	if n > 8 {
		n = 8
	}
	return n
}

// Queue is a FIFO of background work items, admitted onto a fixed
// number of concurrent workers via a weighted semaphore. One
// dedicated goroutine pops the FIFO and hands work to the semaphore;
// Enqueue does not wait for a worker slot, only for room in the
// FIFO's 1024-item buffer.
type Queue struct {
	sem  *semaphore.Weighted
	work chan func()
	done chan struct{}
}

// New starts a Queue with the given capacity. capacity <= 0 uses
// spec.md's default bound.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	q := &Queue{
		sem:  semaphore.NewWeighted(int64(capacity)),
		work: make(chan func(), 1024),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue schedules fn to run as soon as a worker slot is free. It
// returns immediately while fewer than 1024 items are waiting and
// blocks once the FIFO is full; fn's panics are not recovered, matching the
// teacher's own goroutine-dispatch code elsewhere in the engine.
func (q *Queue) Enqueue(fn func()) {
	q.work <- fn
}

func (q *Queue) loop() {
	for {
		select {
		case fn := <-q.work:
			if err := q.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			go func() {
				defer q.sem.Release(1)
				fn()
			}()
		case <-q.done:
			return
		}
	}
}

// Close stops the dispatch loop. Work already handed to a worker
// still runs to completion; anything still sitting in the FIFO is
// dropped.
func (q *Queue) Close() {
	close(q.done)
}
