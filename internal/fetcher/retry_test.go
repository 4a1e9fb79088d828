package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyDelays(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: 5 * time.Second, RateLimitDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	require.Equal(t, 5*time.Second, p.Exponential(0))
	require.Equal(t, 10*time.Second, p.Exponential(1))
	require.Equal(t, 20*time.Second, p.Exponential(2))
	require.Equal(t, 30*time.Second, p.Exponential(5), "capped at MaxDelay")

	require.Equal(t, 2*time.Second, p.Linear(0))
	require.Equal(t, 6*time.Second, p.Linear(2))
}

func TestPolicyJitterBounded(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second, MaxJitter: 500 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := p.Exponential(0)
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, time.Second+500*time.Millisecond)
	}
}

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 1, Policy{}.normalized().MaxAttempts)
}
