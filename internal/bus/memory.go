package bus

import (
	"context"
	"sync"
	"time"

	"futuresbot/internal/core"
)

// MemoryBroker is an in-process broker with the same semantics as the
// Redis one. Used by tests and single-process deployments.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	last   map[string]lastEntry
	closed bool
}

type lastEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string][]*Subscription),
		last: make(map[string]lastEntry),
	}
}

// Publish encodes, stores the last value, and fans out synchronously.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return core.ErrShutdown
	}
	b.last[channel] = lastEntry{data: data, expires: time.Now().Add(lastValueTTL)}
	subs := make([]*Subscription, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, sub := range subs {
		// decode per subscriber so consumers cannot alias each other's value
		decoded, err := DecodeEnvelope(data)
		if err != nil {
			return err
		}
		sub.push(ctx, decoded)
	}
	return nil
}

// Subscribe registers a consumer for the channel.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan *Envelope, subscriberQueueSize),
		cancel: cancel,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		return nil, core.ErrShutdown
	}
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	go func() {
		<-subCtx.Done()
		b.mu.Lock()
		list := b.subs[channel]
		for i, s := range list {
			if s == sub {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub, nil
}

// LastValue returns the most recent envelope on the channel.
func (b *MemoryBroker) LastValue(_ context.Context, channel string) (*Envelope, error) {
	b.mu.RLock()
	entry, ok := b.last[channel]
	b.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, core.ErrNoMarketData
	}
	return DecodeEnvelope(entry.data)
}

// Close ends all subscriptions.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.cancel()
	}
	return nil
}
