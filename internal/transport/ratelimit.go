package transport

import (
	"sync"

	"golang.org/x/time/rate"
)

// LimiterRegistry tracks one token bucket per webhook for subscriptions
// that configured a per-minute delivery cap. Webhooks without a limit
// never touch the registry.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter   *rate.Limiter
	perMinute int
}

// NewLimiterRegistry creates an empty registry.
func NewLimiterRegistry() *LimiterRegistry {
	return &LimiterRegistry{limiters: make(map[string]*limiterEntry)}
}

// Allow reports whether a delivery to the webhook may proceed now. The
// limiter is created on first use and rebuilt when the configured limit
// changes. Burst equals the per-minute limit so an idle webhook can
// absorb a spike.
func (r *LimiterRegistry) Allow(webhookID string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	r.mu.Lock()
	entry, ok := r.limiters[webhookID]
	if !ok || entry.perMinute != perMinute {
		entry = &limiterEntry{
			limiter:   rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
			perMinute: perMinute,
		}
		r.limiters[webhookID] = entry
	}
	r.mu.Unlock()

	return entry.limiter.Allow()
}

// Forget drops a webhook's limiter, typically after deletion.
func (r *LimiterRegistry) Forget(webhookID string) {
	r.mu.Lock()
	delete(r.limiters, webhookID)
	r.mu.Unlock()
}
