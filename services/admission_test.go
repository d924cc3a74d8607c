package services

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

func newTestAdmission(t *testing.T, freeLimit int, dailyCostLimit float64) (*AdmissionService, *PostgresService) {
	t.Helper()
	store := newTestStore(t)

	quota := &QuotaService{
		freeDailyLimit: freeLimit,
		sqlSvc:         store,
		subSvc:         &SubscriptionService{sqlSvc: store},
	}
	rate := &RateLimitService{sqlSvc: store}
	rate.initDefaultConfigs()

	svc := &AdmissionService{
		quotaSvc:       quota,
		rateSvc:        rate,
		throttleSvc:    &TokenThrottleService{minInterval: 5 * time.Second, sqlSvc: store},
		costSvc:        &CostService{dailyLimitUSD: dailyCostLimit, hourlyReference: dailyCostLimit / 24, highVolumeCount: 500, sqlSvc: store},
		suspicionSvc:   &SuspicionService{rules: defaultRules(), sqlSvc: store},
		fingerprintSvc: &FingerprintService{sqlSvc: store},
		sqlSvc:         store,
		monitoringSvc:  &MonitoringService{},
	}
	return svc, store
}

// newGuardedApp mounts a route that runs the full guard pipeline for a fixed
// session identity.
func newGuardedApp(svc *AdmissionService, sessionID string, opts dto.AdmissionOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if appErr, ok := shared.GetAppError(err); ok {
				return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
			}
			return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
		},
	})

	app.Post("/guarded", func(c *fiber.Ctx) error {
		identity := &dto.Identity{SessionID: sessionID, IP: "192.0.2.1"}
		if err := svc.Admit(c, identity, shared.EndpointChat, opts); err != nil {
			return err
		}
		svc.RecordOutcome(c, identity, shared.EndpointChat)
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestAdmitQuotaExhaustion(t *testing.T) {
	svc, _ := newTestAdmission(t, 2, 50)
	app := newGuardedApp(svc, "sess-q", dto.AdmissionOptions{})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestAdmitBlockedSession(t *testing.T) {
	svc, _ := newTestAdmission(t, 20, 50)
	require.NoError(t, svc.quotaSvc.Block("sess-b", time.Hour))

	app := newGuardedApp(svc, "sess-b", dto.AdmissionOptions{})

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// A blocked request consumes no quota.
	quota, err := svc.quotaSvc.Status("sess-b", "")
	require.NoError(t, err)
	assert.Zero(t, quota.Used)
}

func TestAdmitTokenThrottle(t *testing.T) {
	svc, _ := newTestAdmission(t, 20, 50)
	app := newGuardedApp(svc, "sess-tt", dto.AdmissionOptions{TokenThrottle: true})

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))
}

func TestAdmitCostCeiling(t *testing.T) {
	svc, _ := newTestAdmission(t, 20, 1.0)
	require.NoError(t, svc.costSvc.RecordCost(1.5, 100, 100))

	app := newGuardedApp(svc, "sess-cc", dto.AdmissionOptions{CostGuard: true})

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdmitRateLimitHeaders(t *testing.T) {
	svc, _ := newTestAdmission(t, 100, 50)
	app := newGuardedApp(svc, "sess-hdr", dto.AdmissionOptions{})

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "29", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

func TestRecordOutcomeBlocksRoboticSession(t *testing.T) {
	svc, store := newTestAdmission(t, 100, 50)

	// Five prior robotic requests put the session past its grace period with
	// machine-gun timing.
	seedActivity(t, store, "sess-bot", "192.0.2.1", evenlySpaced(6, 100*time.Millisecond))

	app := newGuardedApp(svc, "sess-bot", dto.AdmissionOptions{})

	resp, err := app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode, "scoring happens after the response")

	block, err := svc.quotaSvc.IsBlocked("sess-bot")
	require.NoError(t, err)
	assert.True(t, block.Blocked)

	resp, err = app.Test(httptest.NewRequest("POST", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
