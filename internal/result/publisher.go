package result

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/dreamforge-ai/dreamforge/internal/model"
	"github.com/dreamforge-ai/dreamforge/internal/ws"
)

// Publisher delivers terminal generation results to the chat surface.
type Publisher interface {
	Publish(ctx context.Context, result *model.GenerationResult) error
}

// RedisPublisher pushes results onto the Redis results list, which the chat
// surface BRPOPs for delivery (at-least-once). When a hub is attached,
// connected WebSocket consumers also receive a best-effort push.
type RedisPublisher struct {
	rdb *redis.Client
	hub *ws.Hub // optional
}

// NewRedisPublisher creates a publisher. hub may be nil.
func NewRedisPublisher(rdb *redis.Client, hub *ws.Hub) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, hub: hub}
}

func (p *RedisPublisher) Publish(ctx context.Context, result *model.GenerationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if err := p.rdb.LPush(ctx, model.ResultsQueueKey, data).Err(); err != nil {
		return fmt.Errorf("publish result %s: %w", result.TaskID, err)
	}
	log.Printf("[result] published %s result for task %s", result.Status, result.TaskID)

	if p.hub != nil {
		p.hub.BroadcastResult(result)
	}
	return nil
}
