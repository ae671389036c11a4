package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"futuresbot/internal/core"
	"futuresbot/internal/telemetry"
)

// Guard gates bus traffic. The shared circuit breaker implements it.
type Guard interface {
	AllowRequest(ctx context.Context) (bool, error)
	RecordSuccess(ctx context.Context) error
	RecordFailure(ctx context.Context) error
}

// nopGuard admits everything. Used when no breaker is wired, e.g. tests.
type nopGuard struct{}

func (nopGuard) AllowRequest(context.Context) (bool, error) { return true, nil }
func (nopGuard) RecordSuccess(context.Context) error        { return nil }
func (nopGuard) RecordFailure(context.Context) error        { return nil }

// Publisher is the breaker-gated write side of the bus. A refused
// publish returns core.ErrBreakerOpen; transport failures and successes
// feed back into the guard.
type Publisher struct {
	broker Broker
	guard  Guard
	logger core.Logger
}

// NewPublisher wraps the broker. A nil guard admits all publishes.
func NewPublisher(broker Broker, guard Guard, logger core.Logger) *Publisher {
	if guard == nil {
		guard = nopGuard{}
	}
	return &Publisher{
		broker: broker,
		guard:  guard,
		logger: logger.WithField("component", "bus_publisher"),
	}
}

// Publish sends an envelope on the channel.
func (p *Publisher) Publish(ctx context.Context, channel string, env *Envelope) error {
	allowed, err := p.guard.AllowRequest(ctx)
	if err != nil {
		return fmt.Errorf("breaker check: %w", err)
	}
	if !allowed {
		return core.ErrBreakerOpen
	}

	if err := p.broker.Publish(ctx, channel, env); err != nil {
		if recErr := p.guard.RecordFailure(ctx); recErr != nil {
			p.logger.Warn("Failed to record breaker failure", "error", recErr)
		}
		return err
	}

	if recErr := p.guard.RecordSuccess(ctx); recErr != nil {
		p.logger.Warn("Failed to record breaker success", "error", recErr)
	}
	if c := telemetry.GetGlobalMetrics().BusPublishedTotal; c != nil {
		c.Add(ctx, 1)
	}
	return nil
}

// PublishJSON marshals the value and publishes it under the topic.
func (p *Publisher) PublishJSON(ctx context.Context, channel, topic string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return p.Publish(ctx, channel, &Envelope{Topic: topic, Value: data})
}
