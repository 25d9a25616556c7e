package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue. Tasks not yet dequeued are lost
// when the process exits.
//
// Card ids stay claimed while queued and for the last capacity dequeued
// tasks, so the claim set never exceeds twice the capacity. Older cards are
// finished or in flight and are guarded by their persisted status.
type MemoryQueue struct {
	mu       sync.Mutex
	tasks    chan Task
	seen     map[string]struct{}
	recent   []string
	retained int
	closed   bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{
		tasks:    make(chan Task, capacity),
		seen:     make(map[string]struct{}),
		retained: capacity,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.seen[task.CardID]; ok {
		return ErrAlreadyScheduled
	}

	select {
	case q.tasks <- task:
		q.seen[task.CardID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Task, error) {
	select {
	case <-ctx.Done():
		return Task{}, ctx.Err()
	case task, ok := <-q.tasks:
		if !ok {
			return Task{}, ErrClosed
		}
		q.release(task.CardID)
		return task, nil
	}
}

// release moves a dequeued id into the bounded window of recent claims.
func (q *MemoryQueue) release(cardID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.recent = append(q.recent, cardID)
	if len(q.recent) > q.retained {
		delete(q.seen, q.recent[0])
		q.recent = q.recent[1:]
	}
}

// claimed returns the number of card ids currently refused by Enqueue.
func (q *MemoryQueue) claimed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen)
}

// Len returns the number of tasks waiting to be dequeued.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close stops admission. Tasks already queued can still be dequeued.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}
