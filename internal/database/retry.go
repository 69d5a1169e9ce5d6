package database

import (
	"context"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/relayq/relayq/internal/config"
)

// Retrier applies a bounded exponential retry policy to storage calls.
// It retries only errors classified as transient (SQLITE_BUSY and
// SQLITE_LOCKED); everything else surfaces immediately. This policy is
// independent of the webhook delivery retry policy.
type Retrier struct {
	cfg config.StorageRetryConfig
}

func NewRetrier(cfg config.StorageRetryConfig) *Retrier {
	return &Retrier{cfg: cfg}
}

func (r *Retrier) Do(ctx context.Context, op func() error) error {
	if r.cfg.MaxRetries == 0 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.BaseDelay
	policy.Multiplier = r.cfg.Multiplier
	policy.RandomizationFactor = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.cfg.MaxRetries)), ctx))
}

// IsTransient reports whether a storage error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
