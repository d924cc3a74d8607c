package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThrottle(t *testing.T, interval time.Duration) *TokenThrottleService {
	t.Helper()
	return &TokenThrottleService{minInterval: interval, sqlSvc: newTestStore(t)}
}

func TestThrottleFirstIssuanceAllowed(t *testing.T) {
	svc := newTestThrottle(t, 5*time.Second)

	info, err := svc.CheckThrottle("sess-t1")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Zero(t, info.RetryAfterSeconds)
}

func TestThrottleDeniesInsideInterval(t *testing.T) {
	svc := newTestThrottle(t, 5*time.Second)

	_, err := svc.CheckThrottle("sess-t2")
	require.NoError(t, err)

	info, err := svc.CheckThrottle("sess-t2")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 5, info.RetryAfterSeconds, "retry hint rounds up to whole seconds")
}

func TestThrottleAllowsAfterInterval(t *testing.T) {
	svc := newTestThrottle(t, 50*time.Millisecond)

	_, err := svc.CheckThrottle("sess-t3")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)

	info, err := svc.CheckThrottle("sess-t3")
	require.NoError(t, err)
	assert.True(t, info.Allowed)

	// And the interval re-arms.
	info, err = svc.CheckThrottle("sess-t3")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
}

func TestThrottleSessionsIndependent(t *testing.T) {
	svc := newTestThrottle(t, 5*time.Second)

	_, err := svc.CheckThrottle("sess-t4")
	require.NoError(t, err)

	info, err := svc.CheckThrottle("sess-t5")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
}
