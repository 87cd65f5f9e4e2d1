package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/danmuck/wampd/internal/logging"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// retry runs dial up to cfg.DialAttempts times, sleeping per backoff between
// failures. The first failure after ctx ends is returned as is.
func retry[T any](ctx context.Context, cfg Config, what string, dial func(context.Context) (T, error)) (T, error) {
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}
	logs := logging.Component("transport")
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := dial(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		logs.Debug().Err(err).Str("target", what).Int("attempt", attempt).Dur("delay", delay).Msg("transport.retry backing off")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, fmt.Errorf("%w: target=%s attempts=%d: %w", ErrDialExhausted, what, attempts, lastErr)
}
