package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-access/aria_api/dto"
)

func newTestRateLimiter(t *testing.T) (*RateLimitService, *PostgresService) {
	t.Helper()
	store := newTestStore(t)
	svc := &RateLimitService{sqlSvc: store}
	svc.initDefaultConfigs()
	return svc, store
}

func TestRateLimitDeniesAtLimit(t *testing.T) {
	svc, _ := newTestRateLimiter(t)

	const limit = 5
	for i := 0; i < limit; i++ {
		info, err := svc.CheckAndConsume("203.0.113.7", limit, "chat", time.Minute)
		require.NoError(t, err)
		assert.True(t, info.Allowed, "request %d should be allowed", i+1)
	}

	info, err := svc.CheckAndConsume("203.0.113.7", limit, "chat", time.Minute)
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)
	require.NotNil(t, info.ResetTime)
	assert.True(t, info.ResetTime.After(time.Now()))
}

func TestRateLimitIdentifiersAreIndependent(t *testing.T) {
	svc, _ := newTestRateLimiter(t)

	info, err := svc.CheckAndConsume("session-a", 1, "chat", time.Minute)
	require.NoError(t, err)
	assert.True(t, info.Allowed)

	info, err = svc.CheckAndConsume("session-a", 1, "chat", time.Minute)
	require.NoError(t, err)
	assert.False(t, info.Allowed)

	info, err = svc.CheckAndConsume("session-b", 1, "chat", time.Minute)
	require.NoError(t, err)
	assert.True(t, info.Allowed)
}

func TestRateLimitWindowRollover(t *testing.T) {
	svc, store := newTestRateLimiter(t)

	// An exhausted window whose reset time has already passed.
	window, err := store.CreateRateWindow("session-r", "chat", time.Now().Add(-time.Second))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = store.ConsumeRateWindow(window.ID, 3)
		require.NoError(t, err)
	}

	info, err := svc.CheckAndConsume("session-r", 3, "chat", time.Minute)
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, 2, info.Remaining)

	fresh, err := store.GetRateWindow("session-r", "chat")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, 1, fresh.RequestCount)
	assert.True(t, fresh.ResetAt.After(time.Now()))
}

func TestRateLimitConcurrentConsume(t *testing.T) {
	svc, _ := newTestRateLimiter(t)

	const limit = 10
	const attempts = 25

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := svc.CheckAndConsume("shared-session", limit, "chat", time.Minute)
			if err == nil && info.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed)
}

func TestAllowWithoutConfigPassesThrough(t *testing.T) {
	svc, _ := newTestRateLimiter(t)

	info, err := svc.Allow("session-x", "no_such_endpoint")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, -1, info.Remaining)
}

func TestUpdateConfig(t *testing.T) {
	svc, _ := newTestRateLimiter(t)

	inactive := false
	config, err := svc.UpdateConfig("chat", dto.UpdateRateLimitConfigRequest{
		MaxRequests: 5,
		WindowSize:  "30s",
		IsActive:    &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, config.MaxRequests)
	assert.Equal(t, 30*time.Second, config.WindowSize)
	assert.False(t, config.IsActive)

	// Inactive endpoints stop limiting entirely.
	info, err := svc.Allow("session-y", "chat")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, -1, info.Remaining)

	_, err = svc.UpdateConfig("nope", dto.UpdateRateLimitConfigRequest{MaxRequests: 1})
	assert.Error(t, err)
}

func TestRetryAfterSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, 0, retryAfterSeconds(nil))

	past := time.Now().Add(-time.Second)
	assert.Equal(t, 0, retryAfterSeconds(&past))

	future := time.Now().Add(4*time.Second + 500*time.Millisecond)
	assert.Equal(t, 5, retryAfterSeconds(&future))
}
