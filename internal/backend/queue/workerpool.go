package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const dequeueErrorBackoff = time.Second

// WorkerPool runs a fixed number of goroutines that dequeue tasks and hand them
// to the handler. Stop ends dequeuing and waits for in-flight tasks; a task that
// has been dequeued always runs to completion.
type WorkerPool struct {
	queue   Queue
	handler Handler
	workers int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorkerPool(queue Queue, handler Handler, workers int) *WorkerPool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &WorkerPool{
		queue:   queue,
		handler: handler,
		workers: workers,
	}
}

// Start launches the workers and returns immediately. Calling Start on a
// running pool is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	dequeueCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	// in-flight tasks must not observe shutdown
	taskCtx := context.WithoutCancel(ctx)

	p.wg.Add(p.workers)
	for w := 0; w < p.workers; w++ {
		go func(id int) {
			defer p.wg.Done()
			p.work(dequeueCtx, taskCtx, id)
		}(w)
	}
	slog.Info("worker pool started", "workers", p.workers)
}

func (p *WorkerPool) work(dequeueCtx, taskCtx context.Context, id int) {
	for {
		task, err := p.queue.Dequeue(dequeueCtx)
		if err != nil {
			if errors.Is(err, ErrClosed) || dequeueCtx.Err() != nil {
				return
			}
			slog.Error("failed to dequeue task", "worker", id, "error", err)
			select {
			case <-dequeueCtx.Done():
				return
			case <-time.After(dequeueErrorBackoff):
			}
			continue
		}
		p.run(taskCtx, id, task)
	}
}

func (p *WorkerPool) run(ctx context.Context, id int, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task handler panicked", "worker", id, "card_id", task.CardID, "panic", r)
		}
	}()

	p.handler.Process(ctx, task)

	slog.Debug("task finished",
		"worker", id,
		"card_id", task.CardID,
		"duration_ms", time.Since(start).Milliseconds())
}

// Stop signals the workers to stop dequeuing and waits for in-flight tasks.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("worker pool stopped")
}
