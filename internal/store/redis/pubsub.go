package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gosuda/domus/internal/domain"
)

// PubSub fans command status changes out to subscribers such as the
// WebSocket stream.
type PubSub struct {
	client *redis.Client
}

func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

func (ps *PubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ps.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.Publish: %w", err)
	}
	return nil
}

// NotifyStatus publishes the status on both the command channel and the
// tenant channel.
func (ps *PubSub) NotifyStatus(ctx context.Context, s *domain.CommandStatus) error {
	payload, err := json.Marshal(s.Event())
	if err != nil {
		return fmt.Errorf("redis.PubSub.NotifyStatus: marshal: %w", err)
	}

	_, err = ps.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Publish(ctx, CommandChannel(s.TenantID, s.CommandID), payload)
		p.Publish(ctx, TenantChannel(s.TenantID), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis.PubSub.NotifyStatus: %w", err)
	}
	return nil
}

func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := ps.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis.PubSub.Subscribe: receive confirmation: %w", err)
	}

	out := make(chan []byte, 64)
	redisCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		_ = sub.Close()
	}

	return out, cleanup, nil
}

// CommandChannel returns the Redis channel name for one command's status.
// The tenant is part of the name so a subscriber can only ever be wired to
// a channel inside its own tenant.
func CommandChannel(tenantID, commandID uuid.UUID) string {
	return "command:" + tenantID.String() + ":" + commandID.String()
}

// TenantChannel returns the Redis channel name for tenant-wide events.
func TenantChannel(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}
