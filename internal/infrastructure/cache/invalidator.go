package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hilthontt/pokersync/internal/infrastructure/logging"
	"github.com/redis/go-redis/v9"
)

// Invalidator tells other instances that a cached key is stale.
type Invalidator interface {
	Publish(ctx context.Context, key string) error
}

type invalidation struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// RedisInvalidator fans invalidations out over a Redis pub/sub channel.
// Messages published by the same instance are ignored on receipt.
type RedisInvalidator struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	logger     logging.Logger
}

func NewRedisInvalidator(client redis.UniversalClient, channel string, logger logging.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

func (r *RedisInvalidator) InstanceID() string {
	return r.instanceID
}

func (r *RedisInvalidator) Publish(ctx context.Context, key string) error {
	payload, err := json.Marshal(invalidation{Origin: r.instanceID, Key: key})
	if err != nil {
		return err
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation for %s: %w", key, err)
	}
	return nil
}

// Listen blocks until ctx is done, calling onInvalidate for every key
// invalidated by another instance.
func (r *RedisInvalidator) Listen(ctx context.Context, onInvalidate func(key string)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	r.logger.Info(logging.Redis, logging.Invalidation, "listening for cache invalidations", map[logging.ExtraKey]any{
		"Channel": r.channel,
	})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var inv invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				r.logger.Warn(logging.Redis, logging.Invalidation, "malformed invalidation", map[logging.ExtraKey]any{
					logging.ErrorMessage: err.Error(),
				})
				continue
			}
			if inv.Origin == r.instanceID || inv.Key == "" {
				continue
			}

			onInvalidate(inv.Key)
		}
	}
}

type nopInvalidator struct{}

// NewNopInvalidator is used when a single instance serves every room.
func NewNopInvalidator() Invalidator {
	return nopInvalidator{}
}

func (nopInvalidator) Publish(context.Context, string) error {
	return nil
}
