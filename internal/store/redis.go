package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// PushEventsChannel carries one JSON message per push dispatch.
const PushEventsChannel = "push_events"

// RedisEvents publishes dispatch events on Redis Pub/Sub and lets the
// admin event stream subscribe to them.
type RedisEvents struct {
	client *redis.Client
}

func NewRedisEvents(opts *redis.Options) *RedisEvents {
	return &RedisEvents{client: redis.NewClient(opts)}
}

func (r *RedisEvents) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish encodes event as JSON and publishes it.
func (r *RedisEvents) Publish(ctx context.Context, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.client.Publish(ctx, PushEventsChannel, data).Err()
}

// Messages subscribes to the channel and streams message payloads until ctx
// is done or stop is called.
func (r *RedisEvents) Messages(ctx context.Context) (<-chan string, func() error, error) {
	pubsub := r.client.Subscribe(ctx, PushEventsChannel)
	// Wait for the subscription confirmation so a dead server fails here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}

func (r *RedisEvents) Close() error {
	return r.client.Close()
}
