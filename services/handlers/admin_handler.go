package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aria-access/aria_api/dto"
	"github.com/aria-access/aria_api/shared"
)

type AdminHandler struct {
	quotaSvc QuotaServiceInterface
	rateSvc  RateLimitAdminInterface
	costSvc  CostReportInterface
}

func NewAdminHandler(quotaSvc QuotaServiceInterface, rateSvc RateLimitAdminInterface, costSvc CostReportInterface) *AdminHandler {
	return &AdminHandler{
		quotaSvc: quotaSvc,
		rateSvc:  rateSvc,
		costSvc:  costSvc,
	}
}

// @Summary Rate limit statistics
// @Tags admin
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=dto.RateLimitStatsResponse}
// @Router /api/v1/admin/rate-limits [get]
func (h *AdminHandler) RateLimitStats(c *fiber.Ctx) error {
	stats, err := h.rateSvc.GetStats()
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "OK", stats)
}

// @Summary Update a rate limit policy
// @Tags admin
// @Accept json
// @Produce json
// @Security Bearer
// @Param endpoint path string true "Endpoint name"
// @Param configRequest body dto.UpdateRateLimitConfigRequest true "Fields to change"
// @Success 200 {object} shared.Response{data=dto.RateLimitConfig}
// @Router /api/v1/admin/rate-limits/{endpoint} [put]
func (h *AdminHandler) UpdateRateLimitConfig(c *fiber.Ctx) error {
	endpoint := c.Params("endpoint")

	var req dto.UpdateRateLimitConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return err
	}

	config, err := h.rateSvc.UpdateConfig(endpoint, req)
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "Rate limit updated", config)
}

// @Summary Reset a rate limit window
// @Tags admin
// @Produce json
// @Security Bearer
// @Param endpoint path string true "Endpoint name"
// @Param identifier path string true "Session or IP identifier"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/rate-limits/{endpoint}/{identifier} [delete]
func (h *AdminHandler) ResetRateLimit(c *fiber.Ctx) error {
	endpoint := c.Params("endpoint")
	identifier := c.Params("identifier")

	if err := h.rateSvc.ResetRateLimit(identifier, endpoint); err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "Rate limit reset", nil)
}

// @Summary Daily cost report
// @Tags admin
// @Produce json
// @Security Bearer
// @Param date query string false "UTC date (YYYY-MM-DD), defaults to today"
// @Success 200 {object} shared.Response{data=dto.CostReportResponse}
// @Router /api/v1/admin/costs/daily [get]
func (h *AdminHandler) DailyCostReport(c *fiber.Ctx) error {
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return shared.NewBadRequestError(err, "Invalid date, expected YYYY-MM-DD")
	}

	report, err := h.costSvc.DailyReport(date)
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "OK", report)
}

// @Summary Trailing cost report
// @Tags admin
// @Produce json
// @Security Bearer
// @Param days query int false "Trailing days including today" default(7)
// @Success 200 {object} shared.Response{data=dto.CostReportResponse}
// @Router /api/v1/admin/costs/range [get]
func (h *AdminHandler) RangeCostReport(c *fiber.Ctx) error {
	days, err := strconv.Atoi(c.Query("days", "7"))
	if err != nil || days < 1 || days > 90 {
		return shared.NewBadRequestError(err, "Invalid days, expected 1-90")
	}

	report, err := h.costSvc.RangeReport(days)
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "OK", report)
}

// @Summary List blocked sessions
// @Tags admin
// @Produce json
// @Security Bearer
// @Success 200 {object} shared.Response{data=[]dto.BlockedSessionInfo}
// @Router /api/v1/admin/blocked-sessions [get]
func (h *AdminHandler) BlockedSessions(c *fiber.Ctx) error {
	sessions, err := h.quotaSvc.BlockedSessions()
	if err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "OK", sessions)
}

// @Summary Unblock a session
// @Tags admin
// @Produce json
// @Security Bearer
// @Param sessionKey path string true "Session key"
// @Success 200 {object} shared.Response{data=nil}
// @Router /api/v1/admin/blocked-sessions/{sessionKey} [delete]
func (h *AdminHandler) Unblock(c *fiber.Ctx) error {
	sessionKey := c.Params("sessionKey")

	if err := h.quotaSvc.Unblock(sessionKey); err != nil {
		return err
	}
	return shared.ResponseJSON(c, http.StatusOK, "Session unblocked", nil)
}
