// Package queue hands uploaded cards from the ingestion gateway to a fixed pool
// of background workers. Scheduling is single-shot per card id and admission is
// bounded: a full queue rejects immediately instead of blocking the caller.
package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull        = errors.New("task queue is full")
	ErrAlreadyScheduled = errors.New("card has already been scheduled")
	ErrClosed           = errors.New("task queue is closed")
)

// Task is everything a worker needs to process one uploaded card.
type Task struct {
	CardID         string `json:"cardId"`
	LocalImagePath string `json:"localImagePath"`
	OwnerID        string `json:"ownerId"`
}

type Queue interface {
	// Enqueue admits the task or fails immediately with ErrQueueFull,
	// ErrAlreadyScheduled or ErrClosed.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (Task, error)
	Close() error
}

// Handler runs one task. It must not return an error; outcomes are recorded by the handler itself.
type Handler interface {
	Process(ctx context.Context, task Task)
}

type HandlerFunc func(ctx context.Context, task Task)

func (f HandlerFunc) Process(ctx context.Context, task Task) {
	f(ctx, task)
}
