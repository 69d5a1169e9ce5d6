package dispatch

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/relayq/relayq/internal/config"
)

// retryDelay computes the backoff before the next attempt of a chain.
// The delay doubles per executed failure up to the cap, then a random
// jitter of up to the configured fraction is added so herds of retries
// spread out. attempt is the attempt number that just failed.
func retryDelay(cfg *config.DeliveryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(cfg.BackoffBase) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if capped := float64(cfg.BackoffCap); delay > capped {
		delay = capped
	}

	if cfg.BackoffJitter > 0 {
		delay *= 1 + rand.Float64()*cfg.BackoffJitter
	}

	return time.Duration(delay)
}
