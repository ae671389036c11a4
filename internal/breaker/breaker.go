// Package breaker implements the shared circuit breaker. State lives in
// a key/value store so multiple bot processes trip and recover together.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"futuresbot/internal/core"
	"futuresbot/internal/telemetry"
)

// Breaker states.
const (
	StateClosed = "closed"
	StateOpen   = "open"
)

// KV keys. Shared across processes, so the names are part of the
// deployment contract.
const (
	keyState       = "circuit_breaker:state"
	keyFailures    = "circuit_breaker:failures"
	keySuccesses   = "circuit_breaker:success"
	keyFailureTime = "circuit_breaker:failure_time"
	keyTriggered   = "circuit_breaker:triggered"
)

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig matches the production deployment.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 10,
		SuccessThreshold: 3,
		ResetTimeout:     60 * time.Second,
	}
}

// EmergencyCallback fires at most once per trip, on the first process
// to observe the transition to open.
type EmergencyCallback func(reason string)

// Breaker is a distributed circuit breaker over a KV store.
type Breaker struct {
	kv     KV
	cfg    Config
	logger core.Logger

	callback EmergencyCallback
	now      func() time.Time
}

// New initializes the breaker, creating the KV keys on first use.
func New(ctx context.Context, kv KV, cfg Config, logger core.Logger) (*Breaker, error) {
	b := &Breaker{
		kv:     kv,
		cfg:    cfg,
		logger: logger.WithField("component", "circuit_breaker"),
		now:    time.Now,
	}

	created, err := kv.SetNX(ctx, keyState, StateClosed)
	if err != nil {
		return nil, fmt.Errorf("init breaker state: %w", err)
	}
	if created {
		for _, key := range []string{keyFailures, keySuccesses, keyFailureTime, keyTriggered} {
			if err := kv.Set(ctx, key, "0"); err != nil {
				return nil, fmt.Errorf("init breaker key %s: %w", key, err)
			}
		}
		b.logger.Info("Circuit breaker initialized in closed state")
	}
	return b, nil
}

// SetEmergencyCallback registers the one-shot trip handler.
func (b *Breaker) SetEmergencyCallback(cb EmergencyCallback) {
	b.callback = cb
}

// State returns the current breaker state.
func (b *Breaker) State(ctx context.Context) (string, error) {
	state, err := b.kv.Get(ctx, keyState)
	if err != nil {
		return "", err
	}
	if state == "" {
		return StateClosed, nil
	}
	return state, nil
}

// AllowRequest reports whether traffic may proceed. An open breaker
// whose reset timeout has elapsed closes again and admits the request.
func (b *Breaker) AllowRequest(ctx context.Context) (bool, error) {
	state, err := b.State(ctx)
	if err != nil {
		return false, err
	}
	if state == StateClosed {
		return true, nil
	}

	lastFailureStr, err := b.kv.Get(ctx, keyFailureTime)
	if err != nil {
		return false, err
	}
	lastFailure := parseInt(lastFailureStr)

	if b.now().Unix()-lastFailure >= int64(b.cfg.ResetTimeout.Seconds()) {
		if err := b.close(ctx); err != nil {
			return false, err
		}
		b.logger.Info("Circuit breaker reset after timeout period")
		return true, nil
	}
	return false, nil
}

// RecordSuccess counts a success. Ignored while the breaker is open and
// the reset timeout has not elapsed; after enough successes the breaker
// fully closes and clears the trip latch.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	state, err := b.State(ctx)
	if err != nil {
		return err
	}
	if state == StateOpen {
		return nil
	}

	successes, err := b.kv.Incr(ctx, keySuccesses)
	if err != nil {
		return err
	}

	if successes >= int64(b.cfg.SuccessThreshold) {
		if err := b.close(ctx); err != nil {
			return err
		}
		if err := b.kv.Set(ctx, keyTriggered, "0"); err != nil {
			return err
		}
		b.logger.Debug("Circuit breaker confirmed closed", "successes", successes)
	}
	return nil
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	failures, err := b.kv.Incr(ctx, keyFailures)
	if err != nil {
		return err
	}
	if err := b.kv.Set(ctx, keyFailureTime, strconv.FormatInt(b.now().Unix(), 10)); err != nil {
		return err
	}
	b.logger.Warn("Failure recorded", "failures", failures)

	if failures >= int64(b.cfg.FailureThreshold) {
		return b.trip(ctx, fmt.Sprintf("failure threshold reached (%d failures)", failures))
	}
	return nil
}

// ForceOpen trips the breaker immediately, e.g. on a drawdown breach.
func (b *Breaker) ForceOpen(ctx context.Context, reason string) error {
	state, err := b.State(ctx)
	if err != nil {
		return err
	}
	if state == StateOpen {
		return nil
	}
	if err := b.kv.Set(ctx, keyFailureTime, strconv.FormatInt(b.now().Unix(), 10)); err != nil {
		return err
	}
	return b.trip(ctx, reason)
}

func (b *Breaker) trip(ctx context.Context, reason string) error {
	if err := b.kv.Set(ctx, keyState, StateOpen); err != nil {
		return err
	}
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(true)
	b.logger.Error("Circuit breaker opened", "reason", reason)

	// INCR makes the trip latch atomic across processes; only the
	// first observer fires the emergency callback.
	count, err := b.kv.Incr(ctx, keyTriggered)
	if err != nil {
		return err
	}
	if count == 1 && b.callback != nil {
		go b.callback(reason)
	}
	return nil
}

func (b *Breaker) close(ctx context.Context) error {
	if err := b.kv.Set(ctx, keyState, StateClosed); err != nil {
		return err
	}
	if err := b.kv.Set(ctx, keyFailures, "0"); err != nil {
		return err
	}
	if err := b.kv.Set(ctx, keySuccesses, "0"); err != nil {
		return err
	}
	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(false)
	return nil
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
