package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pendingKey       = "domus:commands:pending"
	processingPrefix = "domus:commands:processing:"
)

// Queue is a reliable list queue. Dequeue atomically moves an ID from the
// pending list into the consumer's processing list, where it stays until
// Ack removes it. IDs left behind by a crashed consumer are handed back by
// Recover.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func processingKey(consumer string) string {
	return processingPrefix + consumer
}

func (q *Queue) Enqueue(ctx context.Context, id uuid.UUID) error {
	if err := q.client.LPush(ctx, pendingKey, id.String()).Err(); err != nil {
		return fmt.Errorf("redis.Queue.Enqueue: %w", err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (uuid.UUID, bool, error) {
	raw, err := q.client.BLMove(ctx, pendingKey, processingKey(consumer), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("redis.Queue.Dequeue: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		// Poison message: drop it so it cannot wedge the consumer.
		_ = q.client.LRem(ctx, processingKey(consumer), 1, raw).Err()
		return uuid.Nil, false, fmt.Errorf("redis.Queue.Dequeue: bad id %q: %w", raw, err)
	}
	return id, true, nil
}

func (q *Queue) Ack(ctx context.Context, consumer string, id uuid.UUID) error {
	if err := q.client.LRem(ctx, processingKey(consumer), 1, id.String()).Err(); err != nil {
		return fmt.Errorf("redis.Queue.Ack: %w", err)
	}
	return nil
}

// Nack returns the ID to the tail of the pending list.
func (q *Queue) Nack(ctx context.Context, consumer string, id uuid.UUID) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, processingKey(consumer), 1, id.String())
		p.LPush(ctx, pendingKey, id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.Queue.Nack: %w", err)
	}
	return nil
}

// Recover moves everything in the consumer's processing list back to the
// head of the pending list and returns how many IDs it moved.
func (q *Queue) Recover(ctx context.Context, consumer string) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, processingKey(consumer), pendingKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redis.Queue.Recover: %w", err)
		}
		n++
	}
}

// Len reports the pending depth.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis.Queue.Len: %w", err)
	}
	return n, nil
}
