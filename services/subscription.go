package services

import (
	goContext "context"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/shared"
)

// SubscriptionService answers "what tier is this user on" for the quota
// manager. The subscriptions table is written by the billing provider's
// webhook; this service only reads it, with a short Redis cache in front.
type SubscriptionService struct {
	context.DefaultService

	cacheTTL time.Duration

	sqlSvc   *PostgresService
	redisSvc *RedisService
}

const SUBSCRIPTION_SVC = "subscription_svc"

const tierCachePrefix = "subscription_tier:"

type cachedTier struct {
	Tier string `json:"tier"`
}

func (svc SubscriptionService) Id() string {
	return SUBSCRIPTION_SVC
}

func (svc *SubscriptionService) Configure(ctx *context.Context) error {
	svc.cacheTTL = 5 * time.Minute
	return svc.DefaultService.Configure(ctx)
}

func (svc *SubscriptionService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

// GetTier resolves a user's tier. Only an active or trialing paid
// subscription counts as paid; everything else, including no subscription
// row at all, is free.
func (svc *SubscriptionService) GetTier(userID string) (string, error) {
	if tier, ok := svc.cachedTier(userID); ok {
		return tier, nil
	}

	sub, err := svc.sqlSvc.GetSubscriptionByUserID(userID)
	if err != nil {
		return "", err
	}

	tier := shared.TierFree
	if sub != nil && sub.Tier == shared.TierPaid {
		switch sub.Status {
		case "active", "trialing":
			if sub.CurrentPeriodEnd == nil || time.Now().Before(*sub.CurrentPeriodEnd) {
				tier = shared.TierPaid
			}
		}
	}

	svc.cacheTier(userID, tier)
	return tier, nil
}

func (svc *SubscriptionService) cachedTier(userID string) (string, bool) {
	if svc.redisSvc == nil {
		return "", false
	}
	var cached cachedTier
	found, err := svc.redisSvc.GetJSON(goContext.Background(), tierCachePrefix+userID, &cached)
	if err != nil || !found || cached.Tier == "" {
		return "", false
	}
	return cached.Tier, true
}

func (svc *SubscriptionService) cacheTier(userID, tier string) {
	if svc.redisSvc == nil {
		return
	}
	err := svc.redisSvc.Set(goContext.Background(), tierCachePrefix+userID, cachedTier{Tier: tier}, svc.cacheTTL)
	if err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).
			Warn("Failed to cache subscription tier")
	}
}

// InvalidateTier drops the cached tier, for use when a billing webhook
// updates the subscription row.
func (svc *SubscriptionService) InvalidateTier(userID string) {
	if svc.redisSvc == nil {
		return
	}
	if err := svc.redisSvc.Delete(goContext.Background(), tierCachePrefix+userID); err != nil {
		log.WithFields(log.Fields{"user_id": userID, "error": err.Error()}).
			Warn("Failed to invalidate cached tier")
	}
}
