package bus

import (
	"context"
	"errors"
	"fmt"

	"futuresbot/internal/core"

	"github.com/redis/go-redis/v9"
)

// RedisBroker is the production broker. Every publish stores the
// payload under the channel's last-value key before fanning it out, so
// a worker that starts late can recover the current state.
type RedisBroker struct {
	client   *redis.Client
	channels Channels
	logger   core.Logger
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, addr, password string, db int, channels Channels, logger core.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisBroker{
		client:   client,
		channels: channels,
		logger:   logger.WithField("component", "redis_broker"),
	}, nil
}

// Publish stores the last value then publishes on the channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	key := b.channels.LastValueKey(channel)
	if err := b.client.Set(ctx, key, data, lastValueTTL).Err(); err != nil {
		return fmt.Errorf("set last value for %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe starts a pub/sub consumer for the channel.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan *Envelope, subscriberQueueSize),
		cancel: cancel,
	}

	go func() {
		defer close(sub.ch)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				env, err := DecodeEnvelope([]byte(msg.Payload))
				if err != nil {
					b.logger.Warn("Dropping undecodable message", "channel", channel, "error", err)
					continue
				}
				sub.push(subCtx, env)
			}
		}
	}()

	return sub, nil
}

// LastValue fetches the most recent envelope published on the channel.
// Returns core.ErrNoMarketData when nothing has been published or the
// key has expired.
func (b *RedisBroker) LastValue(ctx context.Context, channel string) (*Envelope, error) {
	data, err := b.client.Get(ctx, b.channels.LastValueKey(channel)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrNoMarketData
	}
	if err != nil {
		return nil, fmt.Errorf("get last value for %s: %w", channel, err)
	}
	return DecodeEnvelope(data)
}

// Close releases the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// Client exposes the underlying connection for components that share
// it, such as the distributed circuit breaker.
func (b *RedisBroker) Client() *redis.Client {
	return b.client
}
