// Package retry runs an operation again after transient failures with exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/drewdunne/bicepmigrate/internal/generate"
	"github.com/drewdunne/bicepmigrate/internal/provider"
)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// IsTransient decides whether an error is retried. Nil means IsTransient.
	IsTransient func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns two retries starting at one second, capped at 30 seconds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Do calls fn until it succeeds, fails with a non-transient error, or has been called
// 1 + MaxRetries times. The last error is returned unchanged. If ctx ends while waiting,
// ctx.Err() is returned.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	transient := cfg.IsTransient
	if transient == nil {
		transient = IsTransient
	}

	var err error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !transient(err) {
			return err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return err
}

// IsTransient checks if an error is transient and should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if generate.IsTransport(err) || errors.Is(err, provider.ErrUnavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return errors.Is(err, context.DeadlineExceeded)
}
