package core

import "errors"

// Standardized domain errors. Transport code wraps these so workers can
// classify failures without inspecting venue-specific payloads.
var (
	ErrBreakerOpen     = errors.New("circuit breaker is open")
	ErrUnknownEnum     = errors.New("unknown enum value")
	ErrNoMidPrice      = errors.New("mid price unavailable")
	ErrNoMarketData    = errors.New("market data unavailable")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrShutdown        = errors.New("shutting down")
	ErrOrderRejected   = errors.New("order rejected")
	ErrNetwork         = errors.New("network error")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrDecode          = errors.New("malformed message")
	ErrOrderNotFound   = errors.New("order not found")
	ErrPositionMissing = errors.New("position not found")
)
