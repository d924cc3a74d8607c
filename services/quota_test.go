package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-access/aria_api/model"
	"github.com/aria-access/aria_api/shared"
)

func newTestQuota(t *testing.T, freeLimit int) (*QuotaService, *PostgresService) {
	t.Helper()
	store := newTestStore(t)
	svc := &QuotaService{
		freeDailyLimit: freeLimit,
		sqlSvc:         store,
		subSvc:         &SubscriptionService{sqlSvc: store},
	}
	return svc, store
}

func TestQuotaCountsSequentially(t *testing.T) {
	svc, _ := newTestQuota(t, 20)

	for i := 1; i <= 3; i++ {
		info, err := svc.CheckAndConsume("sess-1", "")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, i, info.Used)
		assert.Equal(t, shared.TierFree, info.Tier)
	}
}

func TestQuotaDeniesFreeTierAtLimit(t *testing.T) {
	svc, _ := newTestQuota(t, 2)

	for i := 0; i < 2; i++ {
		info, err := svc.CheckAndConsume("sess-2", "")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
	}

	info, err := svc.CheckAndConsume("sess-2", "")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, 2, info.Used)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, shared.TierFree, info.Tier)

	// Denials consume nothing.
	info, err = svc.Status("sess-2", "")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Used)
}

func TestQuotaRolloverResetsToOne(t *testing.T) {
	svc, store := newTestQuota(t, 20)

	_, err := store.CreateQuota(&model.SessionQuota{
		SessionKey:        "sess-3",
		DailyUsageCount:   15,
		DailyUsageResetAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	info, err := svc.CheckAndConsume("sess-3", "")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, 1, info.Used, "rollover counts the triggering request")
	assert.True(t, info.ResetAt.After(time.Now()))
	assert.Equal(t, time.UTC, info.ResetAt.Location())
	assert.Equal(t, 0, info.ResetAt.Hour())
	assert.Equal(t, 0, info.ResetAt.Minute())
}

func TestNextUTCMidnightIsStrictlyFuture(t *testing.T) {
	exactlyMidnight := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	next := nextUTCMidnight(exactlyMidnight)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), next)

	lateEvening := time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), nextUTCMidnight(lateEvening))
}

func TestQuotaPaidTierUnlimited(t *testing.T) {
	svc, store := newTestQuota(t, 1)

	require.NoError(t, store.Db().Create(&model.Subscription{
		ID:     newID(),
		UserID: "user-paid",
		Tier:   shared.TierPaid,
		Status: "active",
	}).Error)

	for i := 0; i < 3; i++ {
		info, err := svc.CheckAndConsume("sess-4", "user-paid")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
		assert.Equal(t, -1, info.Limit)
		assert.Equal(t, shared.TierPaid, info.Tier)
	}
}

func TestQuotaUserRowSurvivesSessionChurn(t *testing.T) {
	svc, store := newTestQuota(t, 20)

	_, err := svc.CheckAndConsume("old-session", "user-1")
	require.NoError(t, err)

	info, err := svc.CheckAndConsume("new-session", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Used, "same user keeps one budget across sessions")

	var rows int64
	require.NoError(t, store.Db().Model(&model.SessionQuota{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestBlockLifecycle(t *testing.T) {
	svc, store := newTestQuota(t, 20)

	require.NoError(t, svc.Block("sess-5", 50*time.Millisecond))

	block, err := svc.IsBlocked("sess-5")
	require.NoError(t, err)
	assert.True(t, block.Blocked)
	require.NotNil(t, block.Until)

	time.Sleep(60 * time.Millisecond)

	block, err = svc.IsBlocked("sess-5")
	require.NoError(t, err)
	assert.False(t, block.Blocked, "lapsed blocks clear on the next check")

	quota, err := store.GetQuotaBySessionKey("sess-5")
	require.NoError(t, err)
	require.NotNil(t, quota)
	assert.False(t, quota.IsBlocked)
	assert.Nil(t, quota.BlockedUntil)
}

func TestUnblock(t *testing.T) {
	svc, _ := newTestQuota(t, 20)

	require.NoError(t, svc.Block("sess-6", time.Hour))
	require.NoError(t, svc.Unblock("sess-6"))

	block, err := svc.IsBlocked("sess-6")
	require.NoError(t, err)
	assert.False(t, block.Blocked)

	assert.Error(t, svc.Unblock("never-seen"))
}

func TestBlockedSessionsListing(t *testing.T) {
	svc, _ := newTestQuota(t, 20)

	require.NoError(t, svc.Block("sess-7", time.Hour))
	require.NoError(t, svc.Block("sess-8", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	sessions, err := svc.BlockedSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-7", sessions[0].SessionKey)
}

func TestQuotaStatusDoesNotConsume(t *testing.T) {
	svc, _ := newTestQuota(t, 20)

	_, err := svc.CheckAndConsume("sess-9", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		info, err := svc.Status("sess-9", "")
		require.NoError(t, err)
		assert.Equal(t, 1, info.Used)
		assert.Equal(t, 19, info.Remaining)
	}
}
