package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dreamforge-ai/dreamforge/internal/model"
)

// Tier names one queue partition. Priority has strict precedence over normal.
type Tier string

const (
	TierPriority Tier = "priority"
	TierNormal   Tier = "normal"
)

// Queue is the two-tier FIFO holding pending generation tasks. Tiers are
// independently safe for concurrent push/pop; no cross-tier invariant needs a
// joint lock.
type Queue interface {
	// Enqueue appends a task to its tier. Transport failures propagate to
	// the caller, who decides whether to reject or retry the request.
	Enqueue(ctx context.Context, task *model.GenerationTask, priority bool) error

	// Dequeue pops the oldest task, checking the priority tier first on
	// every call. Returns ok=false when both tiers are empty, so worker
	// loops can interleave housekeeping instead of blocking forever.
	Dequeue(ctx context.Context) (*model.GenerationTask, bool, error)

	// Len reports the current depth of one tier.
	Len(ctx context.Context, tier Tier) (int64, error)
}

// ─────────────────────────────────────────────
// Redis implementation
// ─────────────────────────────────────────────

// RedisQueue stores JSON-encoded tasks on two Redis lists, LPUSH on enqueue
// and RPOP on dequeue for FIFO order within each tier.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue wraps a Redis client as a Queue.
func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func tierKey(tier Tier) string {
	if tier == TierPriority {
		return model.PriorityQueueKey
	}
	return model.GenerationQueueKey
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *model.GenerationTask, priority bool) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	key := model.GenerationQueueKey
	if priority {
		key = model.PriorityQueueKey
	}
	if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.TaskID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*model.GenerationTask, bool, error) {
	for _, key := range []string{model.PriorityQueueKey, model.GenerationQueueKey} {
		data, err := q.rdb.RPop(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("dequeue from %s: %w", key, err)
		}

		var task model.GenerationTask
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, false, fmt.Errorf("unmarshal task from %s: %w", key, err)
		}
		return &task, true, nil
	}
	return nil, false, nil
}

func (q *RedisQueue) Len(ctx context.Context, tier Tier) (int64, error) {
	return q.rdb.LLen(ctx, tierKey(tier)).Result()
}
