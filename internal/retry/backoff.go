// Package retry runs operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures retry behavior with exponential backoff
type Config struct {
	MaxRetries int           `koanf:"max_retries"` // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration `koanf:"base_delay"`  // Base delay between retries (default: 500ms)
	MaxDelay   time.Duration `koanf:"max_delay"`   // Maximum delay between retries (default: 10s)
	Multiplier float64       `koanf:"multiplier"`  // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          `koanf:"jitter"`      // Add random jitter (default: true)
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do executes op until it succeeds, fails permanently, the retry budget is
// spent or ctx is done. The returned error is the last one op returned, or
// the context error.
func Do(ctx context.Context, cfg Config, name string, op func(ctx context.Context) error) (Result, error) {
	start := time.Now()
	var res Result

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			res.TotalDuration = time.Since(start)
			if attempt > 0 {
				log.Debug().Str("op", name).Int("retries", attempt).Dur("duration", res.TotalDuration).Msg("operation succeeded after retries")
			}
			return res, nil
		}
		res.LastError = err

		var perm *permanentError
		if errors.As(err, &perm) {
			res.TotalDuration = time.Since(start)
			return res, perm.err
		}
		if attempt >= cfg.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			res.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(cfg, attempt)
		log.Warn().Err(err).Str("op", name).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("delay", delay).
			Msg("operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res, res.LastError
		case <-timer.C:
		}
	}

	res.TotalDuration = time.Since(start)
	log.Error().Err(res.LastError).Str("op", name).Int("attempts", res.Attempts).Dur("duration", res.TotalDuration).Msg("operation failed")
	return res, res.LastError
}

// calculateDelay returns baseDelay * multiplier^attempt, capped at MaxDelay
// and with up to 10% jitter.
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(delay)
}

// IsRetryableError determines if an error is typically transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryable := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
		"unexpected eof",
	}
	for _, r := range retryable {
		if strings.Contains(errStr, r) {
			return true
		}
	}
	return false
}
