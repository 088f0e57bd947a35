package queue

import (
	"context"
	"sync"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

// MemoryQueue is an in-process Queue with the same contract as RedisQueue.
// Used by single-process deployments and tests.
type MemoryQueue struct {
	mu       sync.Mutex
	priority []*model.GenerationTask
	normal   []*model.GenerationTask
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *model.GenerationTask, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Copy so callers cannot mutate a queued task.
	t := *task
	if priority {
		q.priority = append(q.priority, &t)
	} else {
		q.normal = append(q.normal, &t)
	}
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*model.GenerationTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.priority) > 0 {
		t := q.priority[0]
		q.priority = q.priority[1:]
		return t, true, nil
	}
	if len(q.normal) > 0 {
		t := q.normal[0]
		q.normal = q.normal[1:]
		return t, true, nil
	}
	return nil, false, nil
}

func (q *MemoryQueue) Len(_ context.Context, tier Tier) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if tier == TierPriority {
		return int64(len(q.priority)), nil
	}
	return int64(len(q.normal)), nil
}
