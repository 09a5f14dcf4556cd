package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/time/rate"
)

// RetryConfig holds retry configuration for failed provider calls
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (default: 2)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// IsRetryableStatusCode checks if an HTTP status code should trigger a retry
// Retryable codes: 408 (Timeout), 409 (Conflict), 429 (Rate Limit), 5xx (Server errors)
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 408 || statusCode == 409 || statusCode == 429 || statusCode >= 500
}

// CalculateBackoff returns initialBackoff * 2^attempt, capped at maxBackoff
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := config.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > config.MaxBackoff {
		return config.MaxBackoff
	}
	return backoff
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Returns 0 when absent or unparseable.
func ParseRetryAfter(h http.Header) time.Duration {
	retryAfter := h.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ThrottleConfig bounds how fast a provider is called.
type ThrottleConfig struct {
	RequestsPerSecond float64
	Burst             int
	Retry             RetryConfig
}

func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		Retry:             DefaultRetryConfig(),
	}
}

// Throttle rate-limits provider calls and retries retryable failures.
// A 429 halves the allowed rate until a call succeeds again.
type Throttle struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
	retry   RetryConfig
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewThrottle(cfg ThrottleConfig) *Throttle {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultThrottleConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	base := rate.Limit(cfg.RequestsPerSecond)
	return &Throttle{
		limiter: rate.NewLimiter(base, cfg.Burst),
		base:    base,
		retry:   cfg.Retry,
		sleep:   sleepContext,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. fn reports whether a retry is still safe; a stream
// that already emitted text must not be replayed.
func (t *Throttle) Do(ctx context.Context, fn func(ctx context.Context) (retrySafe bool, err error)) error {
	if t == nil {
		_, err := fn(ctx)
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait cancelled: %w", err)
		}

		retrySafe, err := fn(ctx)
		if err == nil {
			t.ResetToDefaults()
			return nil
		}
		lastErr = err

		var pe *ProviderError
		if !retrySafe || !errors.As(err, &pe) || !pe.Retryable() {
			return err
		}
		if pe.StatusCode == http.StatusTooManyRequests {
			t.SetBackoffMultiplier(2)
		}
		if attempt == t.retry.MaxRetries {
			break
		}

		wait := ParseRetryAfter(pe.Headers)
		if wait == 0 || wait > t.retry.MaxBackoff {
			wait = CalculateBackoff(attempt, t.retry)
		}
		log.Warnw("provider call failed, retrying",
			"provider", pe.Provider,
			"status", pe.StatusCode,
			"attempt", attempt+1,
			"backoff", wait.String(),
		)
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// SetBackoffMultiplier divides the allowed rate by multiplier.
func (t *Throttle) SetBackoffMultiplier(multiplier float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.limiter.Limit() / rate.Limit(multiplier)
	if floor := t.base / 16; next < floor {
		next = floor
	}
	t.limiter.SetLimit(next)
}

func (t *Throttle) ResetToDefaults() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limiter.Limit() != t.base {
		t.limiter.SetLimit(t.base)
	}
}

func (t *Throttle) Limit() rate.Limit {
	return t.limiter.Limit()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
