package breaker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futuresbot/pkg/logging"
)

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *MemKV, *time.Time) {
	t.Helper()
	kv := NewMemKV()
	b, err := New(context.Background(), kv, cfg, logging.NewNop())
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	return b, kv, &now
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: 60 * time.Second}
	b, _, _ := newTestBreaker(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, b.RecordFailure(ctx))
		allowed, err := b.AllowRequest(ctx)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	require.NoError(t, b.RecordFailure(ctx))

	allowed, err := b.AllowRequest(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)
}

func TestBreakerResetsAfterTimeout(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 60 * time.Second}
	b, _, now := newTestBreaker(t, cfg)
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx))
	allowed, err := b.AllowRequest(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	*now = now.Add(59 * time.Second)
	allowed, err = b.AllowRequest(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	*now = now.Add(2 * time.Second)
	allowed, err = b.AllowRequest(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, state)
}

func TestBreakerSuccessesClearTripLatch(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 60 * time.Second}
	b, kv, now := newTestBreaker(t, cfg)
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx))
	*now = now.Add(61 * time.Second)

	allowed, err := b.AllowRequest(ctx)
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, b.RecordSuccess(ctx))
	require.NoError(t, b.RecordSuccess(ctx))

	triggered, err := kv.Get(ctx, keyTriggered)
	require.NoError(t, err)
	assert.Equal(t, "0", triggered)

	failures, err := kv.Get(ctx, keyFailures)
	require.NoError(t, err)
	assert.Equal(t, "0", failures)
}

func TestBreakerSuccessIgnoredWhileOpen(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: 60 * time.Second}
	b, _, _ := newTestBreaker(t, cfg)
	ctx := context.Background()

	require.NoError(t, b.RecordFailure(ctx))
	require.NoError(t, b.RecordSuccess(ctx))

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)
}

func TestEmergencyCallbackFiresOnce(t *testing.T) {
	cfg := Config{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: 60 * time.Second}
	b, _, _ := newTestBreaker(t, cfg)
	ctx := context.Background()

	var calls atomic.Int32
	fired := make(chan string, 4)
	b.SetEmergencyCallback(func(reason string) {
		calls.Add(1)
		fired <- reason
	})

	require.NoError(t, b.RecordFailure(ctx))
	require.NoError(t, b.RecordFailure(ctx))
	// further failures while open must not refire the callback
	require.NoError(t, b.RecordFailure(ctx))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForceOpenTripsAndFiresCallback(t *testing.T) {
	b, _, _ := newTestBreaker(t, DefaultConfig())
	ctx := context.Background()

	fired := make(chan string, 1)
	b.SetEmergencyCallback(func(reason string) { fired <- reason })

	require.NoError(t, b.ForceOpen(ctx, "drawdown limits breached"))

	state, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, state)

	select {
	case reason := <-fired:
		assert.Equal(t, "drawdown limits breached", reason)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}

	// already open, no second trip
	require.NoError(t, b.ForceOpen(ctx, "again"))
	select {
	case <-fired:
		t.Fatal("callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}
