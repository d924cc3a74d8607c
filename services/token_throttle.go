package services

import (
	"time"

	"github.com/alphabatem/common/context"

	"github.com/aria-access/aria_api/dto"
)

// TokenThrottleService gates ephemeral-credential minting behind a minimum
// inter-arrival interval. Realtime tokens are expensive to mint and meant to
// be reused, so this is an interval gate rather than a count-per-window
// limit. It reuses the rate-window rows, treating reset_at as "earliest next
// issuance".
type TokenThrottleService struct {
	context.DefaultService

	minInterval time.Duration

	sqlSvc *PostgresService
}

const TOKEN_THROTTLE_SVC = "token_throttle_svc"

const tokenThrottleEndpoint = "realtime_token_throttle"

func (svc TokenThrottleService) Id() string {
	return TOKEN_THROTTLE_SVC
}

func (svc *TokenThrottleService) Configure(ctx *context.Context) error {
	svc.minInterval = 5 * time.Second
	return svc.DefaultService.Configure(ctx)
}

func (svc *TokenThrottleService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// CheckThrottle allows the first issuance for a session unconditionally,
// then requires the minimum interval between issuances. The retry hint is
// whole seconds, rounded up. Storage errors propagate; this guard fails
// closed.
func (svc *TokenThrottleService) CheckThrottle(sessionID string) (*dto.ThrottleInfo, error) {
	now := time.Now()

	window, err := svc.sqlSvc.GetRateWindow(sessionID, tokenThrottleEndpoint)
	if err != nil {
		return nil, err
	}

	if window == nil {
		_, err := svc.sqlSvc.CreateRateWindow(sessionID, tokenThrottleEndpoint, now.Add(svc.minInterval))
		if err == nil {
			return &dto.ThrottleInfo{Allowed: true}, nil
		}
		if !isDuplicateKey(err) {
			return nil, err
		}
		// Concurrent first issuance won; treat this one as inside the interval.
		window, err = svc.sqlSvc.GetRateWindow(sessionID, tokenThrottleEndpoint)
		if err != nil {
			return nil, err
		}
		if window == nil {
			return &dto.ThrottleInfo{Allowed: true}, nil
		}
	}

	if now.Before(window.ResetAt) {
		return &dto.ThrottleInfo{
			Allowed:           false,
			RetryAfterSeconds: retryAfterSeconds(&window.ResetAt),
		}, nil
	}

	refreshed, err := svc.sqlSvc.RefreshRateWindow(window.ID, now.Add(svc.minInterval))
	if err != nil {
		return nil, err
	}
	if !refreshed {
		// A concurrent issuance re-armed the interval just ahead of us.
		retry := int(svc.minInterval / time.Second)
		return &dto.ThrottleInfo{Allowed: false, RetryAfterSeconds: retry}, nil
	}

	return &dto.ThrottleInfo{Allowed: true}, nil
}
