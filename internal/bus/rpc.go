package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"futuresbot/internal/core"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds how long a requester waits for a reply.
const DefaultCallTimeout = 5 * time.Second

// Requester issues commands over the bus and correlates replies. All
// responses arrive on the shared Response channel; the correlation id
// on the envelope routes each one back to its waiting caller.
type Requester struct {
	publisher *Publisher
	channels  Channels
	logger    core.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[uuid.UUID]chan *Envelope

	sub *Subscription
}

// NewRequester subscribes to the Response channel and starts the
// dispatch loop.
func NewRequester(ctx context.Context, broker Broker, publisher *Publisher, channels Channels, logger core.Logger) (*Requester, error) {
	sub, err := broker.Subscribe(ctx, channels.Response())
	if err != nil {
		return nil, err
	}

	r := &Requester{
		publisher: publisher,
		channels:  channels,
		logger:    logger.WithField("component", "bus_requester"),
		timeout:   DefaultCallTimeout,
		pending:   make(map[uuid.UUID]chan *Envelope),
		sub:       sub,
	}
	go r.dispatch()
	return r, nil
}

func (r *Requester) dispatch() {
	for env := range r.sub.C() {
		if env.CorrelationID == nil {
			continue
		}
		r.mu.Lock()
		ch, ok := r.pending[*env.CorrelationID]
		if ok {
			delete(r.pending, *env.CorrelationID)
		}
		r.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// Call publishes the request on the topic's request channel and blocks
// until the correlated reply arrives, the timeout fires, or ctx ends.
// The reply payload is unmarshaled into out when out is non-nil.
func (r *Requester) Call(ctx context.Context, topic string, request, out interface{}) error {
	data, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", topic, err)
	}

	id := uuid.New()
	replyCh := make(chan *Envelope, 1)
	r.mu.Lock()
	r.pending[id] = replyCh
	r.mu.Unlock()

	env := &Envelope{Topic: topic, CorrelationID: &id, Value: data}
	if err := r.publisher.Publish(ctx, r.channels.Request(topic), env); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(reply.Value, out); err != nil {
			return fmt.Errorf("%w: %s reply: %v", core.ErrDecode, topic, err)
		}
		return nil
	case <-timer.C:
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return fmt.Errorf("%w: %s after %s", core.ErrRequestTimeout, topic, r.timeout)
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return ctx.Err()
	}
}

// SetTimeout overrides the per-call reply deadline.
func (r *Requester) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Close stops the dispatch loop.
func (r *Requester) Close() {
	r.sub.Close()
}

// Handler serves one request topic. The returned value is marshaled as
// the reply; returning an error logs it and sends no reply, letting the
// caller time out.
type Handler func(ctx context.Context, env *Envelope) (interface{}, error)

// Responder listens on a set of request topics and answers them.
type Responder struct {
	broker    Broker
	publisher *Publisher
	channels  Channels
	logger    core.Logger

	wg   sync.WaitGroup
	subs []*Subscription
}

// NewResponder creates a responder bound to the broker.
func NewResponder(broker Broker, publisher *Publisher, channels Channels, logger core.Logger) *Responder {
	return &Responder{
		broker:    broker,
		publisher: publisher,
		channels:  channels,
		logger:    logger.WithField("component", "bus_responder"),
	}
}

// Handle subscribes to the topic's request channel and serves it until
// ctx ends.
func (r *Responder) Handle(ctx context.Context, topic string, handler Handler) error {
	sub, err := r.broker.Subscribe(ctx, r.channels.Request(topic))
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for env := range sub.C() {
			r.serve(ctx, topic, handler, env)
		}
	}()
	return nil
}

func (r *Responder) serve(ctx context.Context, topic string, handler Handler, env *Envelope) {
	if env.CorrelationID == nil {
		r.logger.Warn("Request without correlation id", "topic", topic)
		return
	}

	result, err := handler(ctx, env)
	if err != nil {
		r.logger.Error("Request handler failed", "topic", topic, "error", err)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("Failed to marshal reply", "topic", topic, "error", err)
		return
	}

	reply := &Envelope{Topic: topic, CorrelationID: env.CorrelationID, Value: data}
	if err := r.publisher.Publish(ctx, r.channels.Response(), reply); err != nil {
		r.logger.Error("Failed to publish reply", "topic", topic, "error", err)
	}
}

// Wait blocks until all handler loops have exited.
func (r *Responder) Wait() {
	r.wg.Wait()
}
