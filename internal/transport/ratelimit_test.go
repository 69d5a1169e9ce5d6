package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterRegistry_Allow(t *testing.T) {
	reg := NewLimiterRegistry()

	// Burst equals the per-minute limit, so the first N pass.
	for i := 0; i < 3; i++ {
		require.True(t, reg.Allow("wh-1", 3), "send %d should be allowed", i+1)
	}
	require.False(t, reg.Allow("wh-1", 3))

	// Other webhooks have independent buckets.
	require.True(t, reg.Allow("wh-2", 3))
}

func TestLimiterRegistry_NoLimit(t *testing.T) {
	reg := NewLimiterRegistry()

	for i := 0; i < 100; i++ {
		require.True(t, reg.Allow("wh-1", 0))
	}
}

func TestLimiterRegistry_LimitChangeRebuildsBucket(t *testing.T) {
	reg := NewLimiterRegistry()

	require.True(t, reg.Allow("wh-1", 1))
	require.False(t, reg.Allow("wh-1", 1))

	// Raising the limit takes effect immediately.
	require.True(t, reg.Allow("wh-1", 5))
}

func TestLimiterRegistry_Forget(t *testing.T) {
	reg := NewLimiterRegistry()

	require.True(t, reg.Allow("wh-1", 1))
	require.False(t, reg.Allow("wh-1", 1))

	reg.Forget("wh-1")
	require.True(t, reg.Allow("wh-1", 1))
}
