package bus

import (
	"context"
	"testing"
	"time"

	"futuresbot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/pkg/logging"
)

func TestMemoryBrokerPublishSubscribe(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "ch")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "ch", &Envelope{Topic: "t", Value: []byte("v")}))

	select {
	case env := <-sub.C():
		assert.Equal(t, "t", env.Topic)
		assert.Equal(t, []byte("v"), env.Value)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestMemoryBrokerLastValue(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	ctx := context.Background()

	_, err := broker.LastValue(ctx, "ch")
	assert.ErrorIs(t, err, core.ErrNoMarketData)

	require.NoError(t, broker.Publish(ctx, "ch", &Envelope{Topic: "t", Value: []byte("first")}))
	require.NoError(t, broker.Publish(ctx, "ch", &Envelope{Topic: "t", Value: []byte("second")}))

	env, err := broker.LastValue(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), env.Value)
}

func TestSubscriptionDropsOldestWhenFull(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "ch")
	require.NoError(t, err)

	// overflow the queue by one without draining
	for i := 0; i <= subscriberQueueSize; i++ {
		payload := []byte{byte(i % 256), byte(i / 256)}
		require.NoError(t, broker.Publish(ctx, "ch", &Envelope{Topic: "t", Value: payload}))
	}

	// the oldest message (index 0) was dropped; index 1 is first out
	env := <-sub.C()
	assert.Equal(t, []byte{1, 0}, env.Value)
}

func TestPublisherRefusedWhenBreakerOpen(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	guard := &stubGuard{allow: false}
	pub := NewPublisher(broker, guard, logging.NewNop())

	err := pub.Publish(context.Background(), "ch", &Envelope{Topic: "t"})
	assert.ErrorIs(t, err, core.ErrBreakerOpen)
	assert.Zero(t, guard.successes)
}

func TestPublisherRecordsSuccess(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	guard := &stubGuard{allow: true}
	pub := NewPublisher(broker, guard, logging.NewNop())

	require.NoError(t, pub.PublishJSON(context.Background(), "ch", "t", map[string]int{"a": 1}))
	assert.Equal(t, 1, guard.successes)
	assert.Zero(t, guard.failures)
}

type stubGuard struct {
	allow     bool
	successes int
	failures  int
}

func (g *stubGuard) AllowRequest(context.Context) (bool, error) { return g.allow, nil }
func (g *stubGuard) RecordSuccess(context.Context) error        { g.successes++; return nil }
func (g *stubGuard) RecordFailure(context.Context) error        { g.failures++; return nil }
