package histlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleAllowsFirstCallThenBlocksWithinInterval(t *testing.T) {
	th := NewThrottle(time.Minute)
	now := time.Now()

	require.True(t, th.Allow(1, now))
	require.False(t, th.Allow(1, now.Add(30*time.Second)))
	require.True(t, th.Allow(1, now.Add(2*time.Minute)))
}

func TestThrottleTracksPerUID(t *testing.T) {
	th := NewThrottle(time.Minute)
	now := time.Now()

	require.True(t, th.Allow(1, now))
	require.True(t, th.Allow(2, now))
}

func TestThrottleDisabledWhenIntervalNonPositive(t *testing.T) {
	th := NewThrottle(0)
	now := time.Now()
	require.True(t, th.Allow(1, now))
	require.True(t, th.Allow(1, now))
}

func TestThrottleForgetResetsState(t *testing.T) {
	th := NewThrottle(time.Minute)
	now := time.Now()

	require.True(t, th.Allow(1, now))
	th.Forget(1)
	require.True(t, th.Allow(1, now.Add(time.Second)))
}
