package services

import (
	"fmt"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
)

// FingerprintService detects bot farms that rotate IPs while sharing a
// client stack. The fingerprint hashes a fixed tuple of request headers and
// deliberately excludes IP, cookies and session identifiers, so distinct
// people with identical browser configs collide; that only matters in
// aggregate, which is the point. This detector is independent of the
// activity scorer and does not feed its point sum.
type FingerprintService struct {
	context.DefaultService

	sqlSvc *PostgresService
}

const FINGERPRINT_SVC = "fingerprint_svc"

const (
	fingerprintLookback    = 24 * time.Hour
	fingerprintIPThreshold = 50
)

func (svc FingerprintService) Id() string {
	return FINGERPRINT_SVC
}

func (svc *FingerprintService) Start() error {
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// Fingerprint reduces the identifying headers to a short stable hash.
// Concatenation order is fixed; changing it changes every fingerprint.
func Fingerprint(userAgent, acceptLanguage, acceptEncoding, accept string) string {
	payload := userAgent + "|" + acceptLanguage + "|" + acceptEncoding + "|" + accept

	var hash int32
	for _, c := range payload {
		hash = hash*31 + int32(c)
	}
	return fmt.Sprintf("%08x", uint32(hash))
}

// FingerprintRequest derives the fingerprint from an inbound request.
func FingerprintRequest(c *fiber.Ctx) string {
	return Fingerprint(
		c.Get("User-Agent"),
		c.Get("Accept-Language"),
		c.Get("Accept-Encoding"),
		c.Get("Accept"),
	)
}

// Track records a sighting and evaluates the 24-hour IP fan-out. A
// fingerprint seen from fifty or more distinct IPs in a day is flagged as a
// bot-farm signal; anything less is normal shared-config collision noise.
func (svc *FingerprintService) Track(fingerprint, ip, sessionID string) (*dto.FingerprintResult, error) {
	if err := svc.sqlSvc.TouchFingerprint(fingerprint, ip, sessionID); err != nil {
		return nil, err
	}
	if err := svc.sqlSvc.AppendFingerprintSighting(fingerprint, ip); err != nil {
		return nil, err
	}

	ipCount, err := svc.sqlSvc.CountDistinctIPsForFingerprint(fingerprint, time.Now().Add(-fingerprintLookback))
	if err != nil {
		return nil, err
	}

	result := &dto.FingerprintResult{IPCount: ipCount}
	if ipCount >= fingerprintIPThreshold {
		result.IsSuspicious = true
		result.Reason = fmt.Sprintf("fingerprint seen from %d distinct IPs in 24h", ipCount)
	}
	return result, nil
}
