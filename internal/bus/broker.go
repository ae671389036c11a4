package bus

import (
	"context"
	"time"

	"futuresbot/internal/telemetry"
)

const (
	// lastValueTTL bounds staleness of the late-joiner snapshot.
	lastValueTTL = 180 * time.Second
	// subscriberQueueSize is the per-subscription buffer. A slow consumer
	// loses its oldest message, never the newest.
	subscriberQueueSize = 256
)

// Broker moves encoded envelopes between workers. Publish also stores
// the payload under the channel's last-value key so late joiners can
// recover the most recent state.
type Broker interface {
	Publish(ctx context.Context, channel string, env *Envelope) error
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
	LastValue(ctx context.Context, channel string) (*Envelope, error)
	Close() error
}

// Subscription delivers decoded envelopes for one channel.
type Subscription struct {
	ch     chan *Envelope
	cancel context.CancelFunc
}

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan *Envelope { return s.ch }

// Close terminates the subscription.
func (s *Subscription) Close() {
	s.cancel()
}

// push enqueues with drop-oldest semantics.
func (s *Subscription) push(ctx context.Context, env *Envelope) {
	select {
	case s.ch <- env:
		return
	default:
	}

	select {
	case <-s.ch:
		if c := telemetry.GetGlobalMetrics().BusDroppedTotal; c != nil {
			c.Add(ctx, 1)
		}
	default:
	}

	select {
	case s.ch <- env:
	default:
	}
}
