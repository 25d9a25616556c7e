package queue

import (
	"context"
	"fmt"
)

// Scheduler is the gateway's entry point into background processing.
type Scheduler struct {
	queue Queue
}

func NewScheduler(queue Queue) *Scheduler {
	return &Scheduler{queue: queue}
}

// Schedule enqueues processing of a card and returns without waiting for the
// outcome. A card id can be scheduled once.
func (s *Scheduler) Schedule(ctx context.Context, cardID, localImagePath, ownerID string) error {
	if cardID == "" {
		return fmt.Errorf("card id cannot be empty")
	}
	return s.queue.Enqueue(ctx, Task{
		CardID:         cardID,
		LocalImagePath: localImagePath,
		OwnerID:        ownerID,
	})
}
