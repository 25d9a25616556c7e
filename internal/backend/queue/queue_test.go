package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisQueue(t *testing.T, capacity int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueueWithClient(client, "test:tasks", capacity), mr
}

// queues runs a test against every Queue implementation.
func queues(t *testing.T, capacity int) map[string]Queue {
	t.Helper()
	rq, _ := newTestRedisQueue(t, capacity)
	return map[string]Queue{
		"memory": NewMemoryQueue(capacity),
		"redis":  rq,
	}
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	for name, q := range queues(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				task := Task{CardID: fmt.Sprintf("card-%d", i), LocalImagePath: "/tmp/x.png", OwnerID: "u1"}
				if err := q.Enqueue(ctx, task); err != nil {
					t.Fatalf("enqueue %d failed: %v", i, err)
				}
			}
			for i := 0; i < 3; i++ {
				task, err := q.Dequeue(ctx)
				if err != nil {
					t.Fatalf("dequeue %d failed: %v", i, err)
				}
				if task.CardID != fmt.Sprintf("card-%d", i) {
					t.Errorf("expected FIFO order, got %s at position %d", task.CardID, i)
				}
				if task.OwnerID != "u1" || task.LocalImagePath != "/tmp/x.png" {
					t.Errorf("task fields not preserved: %+v", task)
				}
			}
		})
	}
}

func TestQueue_SingleShot(t *testing.T) {
	for name, q := range queues(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			task := Task{CardID: "card-1"}
			if err := q.Enqueue(ctx, task); err != nil {
				t.Fatalf("first enqueue failed: %v", err)
			}
			if err := q.Enqueue(ctx, task); !errors.Is(err, ErrAlreadyScheduled) {
				t.Errorf("expected ErrAlreadyScheduled, got %v", err)
			}
			// still rejected while the card is being worked on
			if _, err := q.Dequeue(ctx); err != nil {
				t.Fatalf("dequeue failed: %v", err)
			}
			if err := q.Enqueue(ctx, task); !errors.Is(err, ErrAlreadyScheduled) {
				t.Errorf("expected ErrAlreadyScheduled after dequeue, got %v", err)
			}
		})
	}
}

func TestQueue_Full(t *testing.T) {
	for name, q := range queues(t, 2) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				if err := q.Enqueue(ctx, Task{CardID: fmt.Sprintf("card-%d", i)}); err != nil {
					t.Fatalf("enqueue %d failed: %v", i, err)
				}
			}
			if err := q.Enqueue(ctx, Task{CardID: "card-2"}); !errors.Is(err, ErrQueueFull) {
				t.Fatalf("expected ErrQueueFull, got %v", err)
			}
			// a rejected card is not claimed and can be admitted once space frees up
			if _, err := q.Dequeue(ctx); err != nil {
				t.Fatalf("dequeue failed: %v", err)
			}
			if err := q.Enqueue(ctx, Task{CardID: "card-2"}); err != nil {
				t.Errorf("expected enqueue to succeed after space freed, got %v", err)
			}
		})
	}
}

func TestQueue_Closed(t *testing.T) {
	for name, q := range queues(t, 10) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := q.Close(); err != nil {
				t.Fatalf("close failed: %v", err)
			}
			if err := q.Enqueue(ctx, Task{CardID: "late"}); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed on enqueue, got %v", err)
			}
			if _, err := q.Dequeue(ctx); !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed on dequeue, got %v", err)
			}
			if err := q.Close(); err != nil {
				t.Errorf("expected second close to be a no-op, got %v", err)
			}
		})
	}
}

func TestMemoryQueue_DequeueCanceled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueue_DrainAfterClose(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Task{CardID: "a"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	q.Close()
	if q.Len() != 1 {
		t.Errorf("expected 1 queued task, got %d", q.Len())
	}
	task, err := q.Dequeue(ctx)
	if err != nil || task.CardID != "a" {
		t.Errorf("expected queued task to survive close, got %+v, %v", task, err)
	}
}

func TestMemoryQueue_ClaimsAreBounded(t *testing.T) {
	const capacity = 3
	q := NewMemoryQueue(capacity)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if err := q.Enqueue(ctx, Task{CardID: fmt.Sprintf("card-%d", i)}); err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		if _, err := q.Dequeue(ctx); err != nil {
			t.Fatalf("dequeue %d failed: %v", i, err)
		}
		if got := q.claimed(); got > 2*capacity {
			t.Fatalf("claim set grew to %d after %d cards", got, i+1)
		}
	}

	// recent cards are still refused, old ones have been released
	if err := q.Enqueue(ctx, Task{CardID: "card-49"}); !errors.Is(err, ErrAlreadyScheduled) {
		t.Errorf("expected recent card to be refused, got %v", err)
	}
	if err := q.Enqueue(ctx, Task{CardID: "card-0"}); err != nil {
		t.Errorf("expected released card to be admitted, got %v", err)
	}
}

func TestRedisQueue_Keys(t *testing.T) {
	q, mr := newTestRedisQueue(t, 5)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Task{CardID: "c1"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !mr.Exists("test:tasks:claimed:c1") {
		t.Error("expected claim key to exist")
	}
	if ttl := mr.TTL("test:tasks:claimed:c1"); ttl <= 0 {
		t.Errorf("expected claim key to expire, ttl %s", ttl)
	}
	n, err := q.Len(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected list length 1, got %d (%v)", n, err)
	}
}

func TestRedisQueue_Unreachable(t *testing.T) {
	if _, err := NewRedisQueue(RedisConfig{Addr: "127.0.0.1:1"}, 1); err == nil {
		t.Error("expected error for unreachable redis")
	}
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mq, ok := q.(*MemoryQueue); !ok || cap(mq.tasks) != DefaultCapacity {
		t.Errorf("expected memory queue with default capacity, got %T", q)
	}

	mr := miniredis.RunT(t)
	q, err = NewQueue(Config{Type: "redis", Capacity: 3, Redis: RedisConfig{Addr: mr.Addr()}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer q.Close()
	if rq, ok := q.(*RedisQueue); !ok || rq.capacity != 3 || rq.listKey != defaultRedisKey {
		t.Errorf("unexpected redis queue %+v", q)
	}

	if _, err := NewQueue(Config{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestScheduler_Schedule(t *testing.T) {
	q := NewMemoryQueue(1)
	s := NewScheduler(q)
	ctx := context.Background()

	if err := s.Schedule(ctx, "", "/tmp/a", "u"); err == nil {
		t.Error("expected error for empty card id")
	}
	if err := s.Schedule(ctx, "c1", "/tmp/a", "u"); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := s.Schedule(ctx, "c2", "/tmp/b", "u"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	task, _ := q.Dequeue(ctx)
	if task != (Task{CardID: "c1", LocalImagePath: "/tmp/a", OwnerID: "u"}) {
		t.Errorf("unexpected task %+v", task)
	}
}

func TestWorkerPool_ProcessesAllTasks(t *testing.T) {
	for name, q := range queues(t, 50) {
		t.Run(name, func(t *testing.T) {
			var mu sync.Mutex
			processed := map[string]int{}
			var wg sync.WaitGroup
			wg.Add(20)

			pool := NewWorkerPool(q, HandlerFunc(func(ctx context.Context, task Task) {
				mu.Lock()
				processed[task.CardID]++
				mu.Unlock()
				wg.Done()
			}), 4)
			pool.Start(context.Background())

			for i := 0; i < 20; i++ {
				if err := q.Enqueue(context.Background(), Task{CardID: fmt.Sprintf("card-%d", i)}); err != nil {
					t.Fatalf("enqueue failed: %v", err)
				}
			}

			waitTimeout(t, &wg, 5*time.Second)
			q.Close()
			pool.Stop()

			if len(processed) != 20 {
				t.Errorf("expected 20 distinct tasks, got %d", len(processed))
			}
			for id, n := range processed {
				if n != 1 {
					t.Errorf("task %s processed %d times", id, n)
				}
			}
		})
	}
}

func TestWorkerPool_StopWaitsForInFlight(t *testing.T) {
	q := NewMemoryQueue(5)
	started := make(chan struct{})
	var finished atomic.Bool
	var sawCancel atomic.Bool

	pool := NewWorkerPool(q, HandlerFunc(func(ctx context.Context, task Task) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		finished.Store(true)
	}), 1)
	pool.Start(context.Background())

	if err := q.Enqueue(context.Background(), Task{CardID: "slow"}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	<-started
	pool.Stop()

	if !finished.Load() {
		t.Error("expected Stop to wait for the in-flight task")
	}
	if sawCancel.Load() {
		t.Error("expected in-flight task context to stay alive during shutdown")
	}
	pool.Stop()
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	q := NewMemoryQueue(5)
	var wg sync.WaitGroup
	wg.Add(2)
	var calls atomic.Int32

	pool := NewWorkerPool(q, HandlerFunc(func(ctx context.Context, task Task) {
		defer wg.Done()
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}), 1)
	pool.Start(context.Background())
	defer pool.Stop()

	q.Enqueue(context.Background(), Task{CardID: "a"})
	q.Enqueue(context.Background(), Task{CardID: "b"})

	waitTimeout(t, &wg, 5*time.Second)
	if calls.Load() != 2 {
		t.Errorf("expected worker to survive panic and process 2 tasks, got %d", calls.Load())
	}
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for tasks")
	}
}
