// Package queue provides an unbounded multi-producer, single-consumer FIFO
// with task accounting: every item handed out by Get must be acknowledged
// with Done, and Wait blocks until all items put so far are acknowledged.
package queue

import (
	"sync"
	"time"
)

type Queue[T any] struct {
	mu         sync.Mutex
	items      []T
	unfinished int
	drained    *sync.Cond
	ready      chan struct{}
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{ready: make(chan struct{}, 1)}
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Put never blocks the producer.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.unfinished++
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get returns the oldest item, waiting at most timeout for one to arrive.
func (q *Queue[T]) Get(timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if item, ok := q.pop(); ok {
			return item, true
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return q.pop()
		}
	}
}

func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Done acknowledges one item previously returned by Get.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.drained.Broadcast()
	}
}

// Wait blocks until every item put so far has been acknowledged.
func (q *Queue[T]) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.unfinished > 0 {
		q.drained.Wait()
	}
}

// Len is the number of items not yet handed out.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending is the number of items not yet acknowledged, including in-flight ones.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
