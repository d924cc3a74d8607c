package services

import (
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/model"
	"github.com/aria-access/aria_api/shared"
)

// AdmissionService runs the guard pipeline in front of every AI endpoint.
// Guard order is fixed: block registry, daily quota, issuance throttle where
// applicable, per-endpoint rate limit, then the global cost governor. The
// cheapest and most specific checks run first so a blocked session costs one
// lookup, and only admitted requests ever reach the paid upstream.
type AdmissionService struct {
	context.DefaultService

	quotaSvc       *QuotaService
	rateSvc        *RateLimitService
	throttleSvc    *TokenThrottleService
	costSvc        *CostService
	suspicionSvc   *SuspicionService
	fingerprintSvc *FingerprintService
	sqlSvc         *PostgresService
	monitoringSvc  *MonitoringService
}

const ADMISSION_SVC = "admission_svc"

// suspiciousBlockDuration is the punitive block applied when the post-request
// scorer flags a session.
const suspiciousBlockDuration = time.Hour

func (svc AdmissionService) Id() string {
	return ADMISSION_SVC
}

func (svc *AdmissionService) Start() error {
	svc.quotaSvc = svc.Service(QUOTA_SVC).(*QuotaService)
	svc.rateSvc = svc.Service(RATE_LIMIT_SVC).(*RateLimitService)
	svc.throttleSvc = svc.Service(TOKEN_THROTTLE_SVC).(*TokenThrottleService)
	svc.costSvc = svc.Service(COST_SVC).(*CostService)
	svc.suspicionSvc = svc.Service(SUSPICION_SVC).(*SuspicionService)
	svc.fingerprintSvc = svc.Service(FINGERPRINT_SVC).(*FingerprintService)
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	svc.monitoringSvc = svc.Service(MONITORING_SVC).(*MonitoringService)
	return nil
}

// Admit runs the guard pipeline for one request. A nil return admits the
// request; a non-nil return is the denial to send, with retry headers already
// set. Guards short-circuit: a denied request consumes nothing from the
// guards after the one that denied it.
func (svc *AdmissionService) Admit(c *fiber.Ctx, identity *dto.Identity, endpoint string, opts dto.AdmissionOptions) error {
	block, err := svc.quotaSvc.IsBlocked(identity.SessionID)
	if err != nil {
		return svc.guardFailure(c, identity, endpoint, "block_registry", err)
	}
	if block.Blocked {
		svc.monitoringSvc.RecordDenial(endpoint, "block_registry")
		if retry := retryAfterSeconds(block.Until); retry > 0 {
			c.Set("Retry-After", strconv.Itoa(retry))
		}
		return shared.NewForbiddenError(nil,
			"This session has been temporarily restricted due to unusual activity.",
			fiber.Map{"blocked_until": block.Until})
	}

	quota, err := svc.quotaSvc.CheckAndConsume(identity.SessionID, identity.UserID)
	if err != nil {
		return svc.guardFailure(c, identity, endpoint, "daily_quota", err)
	}
	if !quota.Allowed {
		svc.monitoringSvc.RecordDenial(endpoint, "daily_quota")
		c.Set("X-Quota-Limit", strconv.Itoa(quota.Limit))
		c.Set("X-Quota-Remaining", strconv.Itoa(quota.Remaining))
		if retry := retryAfterSeconds(&quota.ResetAt); retry > 0 {
			c.Set("Retry-After", strconv.Itoa(retry))
		}
		return shared.NewTooManyRequestsError(nil,
			"Daily free limit reached. Upgrade for unlimited access, or come back tomorrow.",
			fiber.Map{
				"used":     quota.Used,
				"limit":    quota.Limit,
				"tier":     quota.Tier,
				"reset_at": quota.ResetAt,
			})
	}

	if opts.TokenThrottle {
		throttle, err := svc.throttleSvc.CheckThrottle(identity.SessionID)
		if err != nil {
			return svc.guardFailure(c, identity, endpoint, "token_throttle", err)
		}
		if !throttle.Allowed {
			svc.monitoringSvc.RecordDenial(endpoint, "token_throttle")
			c.Set("Retry-After", strconv.Itoa(throttle.RetryAfterSeconds))
			return shared.NewTooManyRequestsError(nil,
				"Please wait a few seconds before requesting another token.",
				fiber.Map{"retry_after": throttle.RetryAfterSeconds})
		}
	}

	rate, err := svc.rateSvc.Allow(identity.SessionID, endpoint)
	if err != nil {
		return svc.guardFailure(c, identity, endpoint, "rate_limit", err)
	}
	svc.rateSvc.AddRateLimitHeaders(c, rate)
	if !rate.Allowed {
		svc.monitoringSvc.RecordDenial(endpoint, "rate_limit")
		return shared.NewTooManyRequestsError(nil,
			"Too many requests. Please slow down.",
			fiber.Map{"retry_after": retryAfterSeconds(rate.ResetTime)})
	}

	if opts.CostGuard {
		cost := svc.costSvc.CheckLimits()
		svc.monitoringSvc.SetDailyCost(cost.DailyCost)
		if !cost.Allowed {
			svc.monitoringSvc.RecordDenial(endpoint, "cost_governor")
			return shared.NewServiceUnavailableError(nil,
				"The service has reached its daily capacity. Please try again tomorrow.", nil)
		}
		if cost.Reason != "" {
			log.WithFields(log.Fields{"reason": cost.Reason}).Warn("Elevated spend detected")
		}
	}

	svc.monitoringSvc.RecordAdmission(endpoint)
	return nil
}

// guardFailure is the fail-closed path for the mandatory guards: the caller
// gets a retryable 503, never unmetered access.
func (svc *AdmissionService) guardFailure(c *fiber.Ctx, identity *dto.Identity, endpoint, guard string, err error) error {
	log.WithFields(log.Fields{
		"session_id": identity.SessionID,
		"endpoint":   endpoint,
		"guard":      guard,
		"error":      err.Error(),
	}).Error("Admission guard failed")
	svc.monitoringSvc.RecordDenial(endpoint, guard+"_error")
	return shared.NewServiceUnavailableError(err,
		"Service temporarily unavailable. Please try again later.", nil)
}

// RecordOutcome runs the post-request bookkeeping for an admitted request:
// activity logging, suspicion scoring, and fingerprint tracking. It never
// fails the request; everything here is best-effort and errors are logged.
func (svc *AdmissionService) RecordOutcome(c *fiber.Ctx, identity *dto.Identity, endpoint string) {
	suspicious := false

	verdict, err := svc.suspicionSvc.Score(identity.SessionID, endpoint, identity.IP)
	if err != nil {
		log.WithFields(log.Fields{
			"session_id": identity.SessionID,
			"error":      err.Error(),
		}).Warn("Suspicion scoring failed")
	} else {
		svc.monitoringSvc.RecordSuspicionScore(verdict.Score)
		if verdict.IsSuspicious {
			suspicious = true
			log.WithFields(log.Fields{
				"session_id": identity.SessionID,
				"score":      verdict.Score,
				"reason":     verdict.Reason,
			}).Warn("Session flagged as suspicious, blocking")
			if err := svc.quotaSvc.Block(identity.SessionID, suspiciousBlockDuration); err != nil {
				log.WithFields(log.Fields{
					"session_id": identity.SessionID,
					"error":      err.Error(),
				}).Error("Failed to block suspicious session")
			} else {
				svc.monitoringSvc.RecordSessionBlocked()
			}
		}
	}

	entry := &model.UsageLog{
		SessionID:  identity.SessionID,
		UserID:     identity.UserID,
		Endpoint:   endpoint,
		IPAddress:  identity.IP,
		Suspicious: suspicious,
	}
	if err := svc.sqlSvc.AppendUsageLog(entry); err != nil {
		log.WithFields(log.Fields{
			"session_id": identity.SessionID,
			"error":      err.Error(),
		}).Error("Failed to append usage log")
	}

	// Fingerprint fan-out is observe-only: a flagged fingerprint is logged
	// for operator review, never auto-blocked.
	fp := FingerprintRequest(c)
	result, err := svc.fingerprintSvc.Track(fp, identity.IP, identity.SessionID)
	if err != nil {
		log.WithFields(log.Fields{"fingerprint": fp, "error": err.Error()}).
			Warn("Fingerprint tracking failed")
	} else if result.IsSuspicious {
		log.WithFields(log.Fields{
			"fingerprint": fp,
			"ip_count":    result.IPCount,
			"session_id":  identity.SessionID,
		}).Warn("Fingerprint flagged across many IPs")
	}
}

// RecordSpend prices and records an admitted request's upstream usage.
func (svc *AdmissionService) RecordSpend(inputTokens, outputTokens int, modelName string) {
	cost := svc.costSvc.EstimateCost(inputTokens, outputTokens, modelName)
	if err := svc.costSvc.RecordCost(cost, inputTokens, outputTokens); err != nil {
		log.WithFields(log.Fields{"model": modelName, "error": err.Error()}).
			Error("Failed to record spend")
	}
}
