package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/config"
)

func backoffConfig(jitter float64) *config.DeliveryConfig {
	return &config.DeliveryConfig{
		BackoffBase:   30 * time.Second,
		BackoffFactor: 2.0,
		BackoffCap:    time.Hour,
		BackoffJitter: jitter,
	}
}

func TestRetryDelay_Doubling(t *testing.T) {
	cfg := backoffConfig(0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, retryDelay(cfg, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	cfg := backoffConfig(0)

	// 30s * 2^9 is far past the cap.
	require.Equal(t, time.Hour, retryDelay(cfg, 10))
}

func TestRetryDelay_JitterBounds(t *testing.T) {
	cfg := backoffConfig(0.2)

	for i := 0; i < 100; i++ {
		delay := retryDelay(cfg, 2)
		require.GreaterOrEqual(t, delay, time.Minute)
		require.Less(t, delay, time.Duration(float64(time.Minute)*1.2))
	}
}

func TestRetryDelay_InvalidAttemptClamped(t *testing.T) {
	cfg := backoffConfig(0)

	require.Equal(t, 30*time.Second, retryDelay(cfg, 0))
	require.Equal(t, 30*time.Second, retryDelay(cfg, -3))
}
