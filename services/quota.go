package services

import (
	goContext "context"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/model"
	"github.com/aria-access/aria_api/shared"
)

// QuotaService owns the per-session daily budget and the punitive block
// registry, both backed by session_quotas rows. The daily window rolls over
// at UTC midnight; blocks expire lazily on the next check.
type QuotaService struct {
	context.DefaultService

	freeDailyLimit int

	sqlSvc   *PostgresService
	redisSvc *RedisService
	subSvc   *SubscriptionService
}

const QUOTA_SVC = "quota_svc"

const blockCachePrefix = "session_block:"

func (svc QuotaService) Id() string {
	return QUOTA_SVC
}

func (svc *QuotaService) Configure(ctx *context.Context) error {
	svc.freeDailyLimit = 20
	if v := os.Getenv("QUOTA_FREE_DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			svc.freeDailyLimit = n
		}
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *QuotaService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	svc.subSvc = svc.Service(SUBSCRIPTION_SVC).(*SubscriptionService)
	return nil
}

func (svc *QuotaService) FreeDailyLimit() int {
	return svc.freeDailyLimit
}

// ==================== DAILY QUOTA ====================

// CheckAndConsume counts one request against the caller's daily budget.
// A rollover is itself the first consumption of the new window: usage lands
// on 1, never 0. Storage errors propagate; this guard fails closed.
func (svc *QuotaService) CheckAndConsume(sessionID, userID string) (*dto.QuotaInfo, error) {
	quota, err := svc.resolveQuota(sessionID, userID)
	if err != nil {
		return nil, err
	}

	tier := svc.resolveTier(userID)
	limit := svc.limitForTier(tier)
	now := time.Now()

	if !now.Before(quota.DailyUsageResetAt) {
		resetAt := nextUTCMidnight(now)
		rolled, err := svc.sqlSvc.RolloverQuota(quota.ID, resetAt)
		if err != nil {
			return nil, err
		}
		if rolled {
			return svc.quotaInfo(true, 1, limit, resetAt, tier), nil
		}
		// Lost the rollover race; re-read and consume normally.
		quota, err = svc.sqlSvc.GetQuotaBySessionKey(quota.SessionKey)
		if err != nil {
			return nil, err
		}
		if quota == nil {
			return nil, shared.NewInternalError(nil, "Quota record disappeared")
		}
	}

	consumed, err := svc.sqlSvc.ConsumeQuota(quota.ID, limit)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return svc.quotaInfo(false, quota.DailyUsageCount, limit, quota.DailyUsageResetAt, tier), nil
	}

	updated, err := svc.sqlSvc.GetQuotaBySessionKey(quota.SessionKey)
	if err != nil || updated == nil {
		return svc.quotaInfo(true, quota.DailyUsageCount+1, limit, quota.DailyUsageResetAt, tier), nil
	}
	return svc.quotaInfo(true, updated.DailyUsageCount, limit, updated.DailyUsageResetAt, tier), nil
}

// Status reports the current budget without consuming from it.
func (svc *QuotaService) Status(sessionID, userID string) (*dto.QuotaInfo, error) {
	quota, err := svc.resolveQuota(sessionID, userID)
	if err != nil {
		return nil, err
	}

	tier := svc.resolveTier(userID)
	limit := svc.limitForTier(tier)
	now := time.Now()

	used := quota.DailyUsageCount
	resetAt := quota.DailyUsageResetAt
	if !now.Before(resetAt) {
		// Window already lapsed; the next request starts a fresh one.
		used = 0
		resetAt = nextUTCMidnight(now)
	}

	info := svc.quotaInfo(true, used, limit, resetAt, tier)
	if limit >= 0 && used >= limit {
		info.Allowed = false
		info.Remaining = 0
	}
	return info, nil
}

func (svc *QuotaService) quotaInfo(allowed bool, used, limit int, resetAt time.Time, tier string) *dto.QuotaInfo {
	remaining := -1
	if limit >= 0 {
		remaining = limit - used
		if remaining < 0 {
			remaining = 0
		}
	}
	return &dto.QuotaInfo{
		Allowed:   allowed,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Tier:      tier,
	}
}

// resolveQuota finds the record for this identity, creating one lazily.
// Authenticated users resolve by user id (most recently used row wins over
// historical session churn) and never get a second row while one exists.
func (svc *QuotaService) resolveQuota(sessionID, userID string) (*model.SessionQuota, error) {
	if userID != "" {
		quota, err := svc.sqlSvc.GetQuotaByUserID(userID)
		if err != nil {
			return nil, err
		}
		if quota != nil {
			return quota, nil
		}
	}

	quota, err := svc.sqlSvc.GetQuotaBySessionKey(sessionID)
	if err != nil {
		return nil, err
	}
	if quota != nil {
		return quota, nil
	}

	created, err := svc.sqlSvc.CreateQuota(&model.SessionQuota{
		SessionKey:        sessionID,
		UserID:            userID,
		DailyUsageCount:   0,
		DailyUsageResetAt: nextUTCMidnight(time.Now()),
	})
	if err == nil {
		return created, nil
	}
	if !isDuplicateKey(err) {
		return nil, err
	}
	// Concurrent first request created it.
	quota, err = svc.sqlSvc.GetQuotaBySessionKey(sessionID)
	if err != nil {
		return nil, err
	}
	if quota == nil {
		return nil, shared.NewInternalError(nil, "Quota record disappeared")
	}
	return quota, nil
}

// resolveTier defensively degrades to the free tier: a billing lookup
// failure must never crash the guard or hand out an unlimited budget.
func (svc *QuotaService) resolveTier(userID string) string {
	if userID == "" {
		return shared.TierFree
	}
	tier, err := svc.subSvc.GetTier(userID)
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).
			Warn("Tier lookup failed, defaulting to free")
		return shared.TierFree
	}
	return tier
}

func (svc *QuotaService) limitForTier(tier string) int {
	if tier == shared.TierPaid {
		return -1
	}
	return svc.freeDailyLimit
}

// nextUTCMidnight is computed from wall-clock UTC and is always strictly in
// the future: exactly at midnight it advances a full day.
func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, 1)
}

// ==================== SESSION BLOCK REGISTRY ====================

// IsBlocked reports whether a session is under a punitive block, clearing
// stale block state in the same step so no background sweep is needed.
func (svc *QuotaService) IsBlocked(sessionID string) (*dto.BlockInfo, error) {
	if until, ok := svc.cachedBlock(sessionID); ok {
		return &dto.BlockInfo{Blocked: true, Until: &until}, nil
	}

	quota, err := svc.sqlSvc.GetQuotaBySessionKey(sessionID)
	if err != nil {
		return nil, err
	}
	if quota == nil || !quota.IsBlocked || quota.BlockedUntil == nil {
		return &dto.BlockInfo{Blocked: false}, nil
	}

	if time.Now().Before(*quota.BlockedUntil) {
		return &dto.BlockInfo{Blocked: true, Until: quota.BlockedUntil}, nil
	}

	// Block lapsed; clear it lazily. Two concurrent checks may both clear,
	// which is harmless.
	if err := svc.sqlSvc.ClearQuotaBlock(quota.ID); err != nil {
		log.WithFields(log.Fields{"session_id": sessionID, "error": err.Error()}).
			Warn("Failed to clear expired block")
	}
	return &dto.BlockInfo{Blocked: false}, nil
}

// Block places a temporary punitive block on a session, creating a
// placeholder quota record when the session has none yet.
func (svc *QuotaService) Block(sessionID string, duration time.Duration) error {
	quota, err := svc.sqlSvc.GetQuotaBySessionKey(sessionID)
	if err != nil {
		return err
	}
	if quota == nil {
		quota, err = svc.sqlSvc.CreateQuota(&model.SessionQuota{
			SessionKey:        sessionID,
			DailyUsageCount:   0,
			DailyUsageResetAt: nextUTCMidnight(time.Now()),
		})
		if err != nil {
			if !isDuplicateKey(err) {
				return err
			}
			quota, err = svc.sqlSvc.GetQuotaBySessionKey(sessionID)
			if err != nil {
				return err
			}
			if quota == nil {
				return shared.NewInternalError(nil, "Quota record disappeared")
			}
		}
	}

	until := time.Now().Add(duration)
	if err := svc.sqlSvc.SetQuotaBlock(quota.ID, until); err != nil {
		return err
	}

	svc.cacheBlock(sessionID, until, duration)
	return nil
}

func (svc *QuotaService) Unblock(sessionID string) error {
	quota, err := svc.sqlSvc.GetQuotaBySessionKey(sessionID)
	if err != nil {
		return err
	}
	if quota == nil {
		return shared.NewNotFoundError(nil, "Session not found")
	}
	if err := svc.sqlSvc.ClearQuotaBlock(quota.ID); err != nil {
		return err
	}
	svc.dropCachedBlock(sessionID)
	return nil
}

func (svc *QuotaService) BlockedSessions() ([]dto.BlockedSessionInfo, error) {
	quotas, err := svc.sqlSvc.GetBlockedSessions(time.Now())
	if err != nil {
		return nil, err
	}
	infos := make([]dto.BlockedSessionInfo, 0, len(quotas))
	for _, q := range quotas {
		infos = append(infos, dto.BlockedSessionInfo{
			SessionKey:   q.SessionKey,
			UserID:       q.UserID,
			BlockedUntil: q.BlockedUntil,
			LastUsedAt:   q.LastUsedAt,
		})
	}
	return infos, nil
}

// ==================== BLOCK CACHE ====================

// The Redis entries are a fast path only; the database row stays the source
// of truth, so cache errors are logged and ignored.

func (svc *QuotaService) cachedBlock(sessionID string) (time.Time, bool) {
	if svc.redisSvc == nil {
		return time.Time{}, false
	}
	raw, err := svc.redisSvc.Get(goContext.Background(), blockCachePrefix+sessionID)
	if err != nil || raw == "" {
		return time.Time{}, false
	}
	until, err := time.Parse(time.RFC3339, raw)
	if err != nil || !time.Now().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

func (svc *QuotaService) cacheBlock(sessionID string, until time.Time, ttl time.Duration) {
	if svc.redisSvc == nil {
		return
	}
	err := svc.redisSvc.Set(goContext.Background(), blockCachePrefix+sessionID, until.Format(time.RFC3339), ttl)
	if err != nil {
		log.WithFields(log.Fields{"session_id": sessionID, "error": err.Error()}).
			Warn("Failed to cache session block")
	}
}

func (svc *QuotaService) dropCachedBlock(sessionID string) {
	if svc.redisSvc == nil {
		return
	}
	if err := svc.redisSvc.Delete(goContext.Background(), blockCachePrefix+sessionID); err != nil {
		log.WithFields(log.Fields{"session_id": sessionID, "error": err.Error()}).
			Warn("Failed to drop cached session block")
	}
}
